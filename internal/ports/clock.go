package ports

import (
	"context"
	"time"
)

// Clock is the single source of virtual time. Every component takes its
// notion of "now" from here; tests supply a deterministic implementation.
type Clock interface {
	// Now returns the current virtual time. Monotonic non-decreasing.
	Now() time.Time
	// Sleep suspends the caller for d of virtual time, i.e. d/speed_factor
	// of wall time. Returns the context error on cancellation.
	Sleep(ctx context.Context, d time.Duration) error
	// SpeedFactor is the fixed virtual/wall multiplier.
	SpeedFactor() float64
}
