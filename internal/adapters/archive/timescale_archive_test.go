package archive

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"
)

func TestWriteBatchInsertsIdempotently(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	a := NewTimescaleArchive(db, "transaction_events")

	orderID := "ORD-001"
	sku := "LEM-500-IE"
	events := []*domain.Event{
		{
			Type: domain.EventOrderStarted, EventID: "01HTEST0000000000000000001",
			TS: time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC),
			OrderID: &orderID, SKU: &sku,
			Payload: map[string]any{"plannedQty": 4000},
		},
		{
			Type: domain.EventStateChanged, EventID: "01HTEST0000000000000000002",
			TS:      time.Date(2025, 1, 6, 6, 0, 1, 0, time.UTC),
			Payload: map[string]any{"fromState": "IDLE", "toState": "RUNNING"},
		},
	}

	mock.ExpectExec("INSERT INTO transaction_events .*ON CONFLICT \\(event_id\\) DO NOTHING").
		WithArgs(
			"01HTEST0000000000000000001", domain.EventOrderStarted, events[0].TS, orderID, sku, sqlmock.AnyArg(),
			"01HTEST0000000000000000002", domain.EventStateChanged, events[1].TS, nil, nil, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := a.WriteBatch(events); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWriteBatchSkipsEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	a := NewTimescaleArchive(db, "transaction_events")
	if err := a.WriteBatch(nil); err != nil {
		t.Fatalf("empty batch must be a no-op: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statements expected: %v", err)
	}
}
