package sim

import (
	"context"
	"testing"
	"time"
)

func TestVirtualClockAdvancesBySleptDuration(t *testing.T) {
	origin := time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)
	c := NewVirtualClock(origin, 1e6)

	if !c.Now().Equal(origin) {
		t.Fatalf("expected origin, got %s", c.Now())
	}

	if err := c.Sleep(context.Background(), 90*time.Minute); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if got := c.Now(); !got.Equal(origin.Add(90 * time.Minute)) {
		t.Fatalf("expected origin+90m, got %s", got)
	}
}

func TestVirtualClockIgnoresNonPositiveDurations(t *testing.T) {
	origin := time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)
	c := NewVirtualClock(origin, 10)

	if err := c.Sleep(context.Background(), -time.Second); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if !c.Now().Equal(origin) {
		t.Fatalf("negative sleep must not move virtual time")
	}
}

func TestVirtualClockPacesAgainstWallClock(t *testing.T) {
	c := NewVirtualClock(time.Unix(0, 0), 100)

	start := time.Now()
	if err := c.Sleep(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 10*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Fatalf("expected ~20ms wall sleep at 100x, got %s", elapsed)
	}
}

func TestVirtualClockSleepHonoursCancellation(t *testing.T) {
	c := NewVirtualClock(time.Unix(0, 0), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Sleep(ctx, time.Hour); err == nil {
		t.Fatalf("expected context error")
	}
	if !c.Now().Equal(time.Unix(0, 0)) {
		t.Fatalf("cancelled sleep must not advance virtual time")
	}
}
