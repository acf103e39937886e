package bottlesim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/ports"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/sim"
)

// nopObs avoids registering Prometheus collectors twice in one binary.
type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}

type instantClock struct {
	mu    sync.Mutex
	t     time.Time
	speed float64
}

func (c *instantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *instantClock) SpeedFactor() float64 { return c.speed }

func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Modbus.Host = "127.0.0.1"
	cfg.Modbus.Port = 0
	cfg.Modbus.FallbackPort = 0
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Logging.TransactionsFile = filepath.Join(dir, "logs", "transactions.jsonl")
	return cfg
}

func TestNewRuntimeRequiresConfig(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestNewRuntimeRejectsBrokenSchedule(t *testing.T) {
	cfg := testConfig(t)
	at := cfg.WeekStartTime()
	bad := []domain.ScheduleBlock{
		{ID: "ORD-X", Kind: domain.BlockOrder, SKUID: "LEM-500-IE", PlannedQty: 10,
			Start: at.Add(time.Hour), End: at},
	}
	_, err := NewRuntime(cfg, WithSchedule(bad), WithObservability(nopObs{}))
	if !errors.Is(err, sim.ErrSchedule) {
		t.Fatalf("expected ErrSchedule, got %v", err)
	}
}

// End to end through the facade: one small order, the Modbus surface
// polled while it runs, the transaction log written and well formed.
func TestRuntimeRunsScheduleEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	at := cfg.WeekStartTime()
	sched := []domain.ScheduleBlock{
		{ID: "ORD-1", Kind: domain.BlockOrder, SKUID: "LEM-2L-IE", PlannedQty: 120,
			Start: at, End: at.Add(4 * time.Minute)},
	}

	rt, err := NewRuntime(cfg,
		WithSchedule(sched),
		WithClock(&instantClock{t: at, speed: cfg.Simulator.SpeedFactor}),
		WithObservability(nopObs{}),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatalf("runtime did not finish")
	}

	if rt.ModbusPort() == 0 {
		t.Fatalf("modbus server never bound a port")
	}

	data, err := os.ReadFile(cfg.Logging.TransactionsFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		t.Fatalf("transaction log must end on a complete line")
	}
}

