package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/ports"
)

// TimescaleArchive is an optional historian: it batches transaction events
// into a Postgres/Timescale table. The JSONL log stays the durability
// contract; archive writes are idempotent via the event_id unique key.
type TimescaleArchive struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleArchive(db *sql.DB, table string) *TimescaleArchive {
	return &TimescaleArchive{db: db, tableName: table}
}

func (t *TimescaleArchive) Name() string { return "timescaledb" }

func (t *TimescaleArchive) WriteBatch(events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (event_id, event_type, ts, order_id, sku, record) VALUES ")

	args := make([]any, 0, len(events)*6)
	for i, e := range events {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))

		record, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.EventID, err)
		}

		var orderID, sku any
		if e.OrderID != nil {
			orderID = *e.OrderID
		}
		if e.SKU != nil {
			sku = *e.SKU
		}
		args = append(args, e.EventID, e.Type, e.TS, orderID, sku, record)
	}

	b.WriteString(" ON CONFLICT (event_id) DO NOTHING")

	_, err := t.db.Exec(b.String(), args...)
	return err
}

var _ ports.EventArchive = (*TimescaleArchive)(nil)
