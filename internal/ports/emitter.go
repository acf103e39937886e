package ports

import "github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"

// EventWriter appends governed transaction events to the durable log.
// Emit blocks when the writer's queue is full (correctness over
// availability) and returns an error once the log can no longer honour
// the flush-per-event contract; callers must treat that error as fatal.
type EventWriter interface {
	Emit(evt *domain.Event) error
	// Close drains the queue, flushes, and releases the log file.
	Close() error
}
