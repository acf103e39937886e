package sim

import (
	"context"
	"sync"
	"time"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/ports"
)

// VirtualClock paces virtual time against the wall clock by a fixed speed
// factor. Virtual time advances by the exact durations slept, so a
// schedule replayed at different speed factors produces identical virtual
// timelines; the wall clock only governs pacing.
type VirtualClock struct {
	mu      sync.Mutex
	speed   float64
	virtual time.Time
}

// NewVirtualClock starts virtual time at origin. speed must be > 0.
func NewVirtualClock(origin time.Time, speed float64) *VirtualClock {
	return &VirtualClock{speed: speed, virtual: origin}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.virtual
}

func (c *VirtualClock) SpeedFactor() float64 {
	return c.speed
}

// Sleep suspends the caller for d/speed of wall time, then advances
// virtual time by d. Negative durations are a no-op: virtual time is
// monotonic non-decreasing.
func (c *VirtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	wall := time.Duration(float64(d) / c.speed)
	if wall > 0 {
		t := time.NewTimer(wall)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	c.mu.Lock()
	c.virtual = c.virtual.Add(d)
	c.mu.Unlock()
	return nil
}

var _ ports.Clock = (*VirtualClock)(nil)
