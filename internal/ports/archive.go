package ports

import "github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"

// EventArchive is an optional downstream historian for emitted events.
// Best effort: the JSONL log remains the durability contract.
type EventArchive interface {
	WriteBatch(events []*domain.Event) error
	Name() string
}
