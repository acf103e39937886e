package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
simulator:
  speed_factor: 120
modbus:
  port: 5020
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Simulator.SpeedFactor != 120 {
		t.Fatalf("expected speed 120, got %v", cfg.Simulator.SpeedFactor)
	}
	if cfg.Modbus.Port != 5020 {
		t.Fatalf("expected port 5020, got %d", cfg.Modbus.Port)
	}
	if cfg.Simulator.TickIntervalMS != 100 {
		t.Fatalf("expected default tick 100ms, got %d", cfg.Simulator.TickIntervalMS)
	}
	if cfg.Modbus.FallbackPort != 5020 {
		t.Fatalf("expected fallback port 5020, got %d", cfg.Modbus.FallbackPort)
	}
	if cfg.Logging.TransactionsFile != "logs/transactions.jsonl" {
		t.Fatalf("expected default log path, got %s", cfg.Logging.TransactionsFile)
	}
	if cfg.Enterprise.Line != "Line01" {
		t.Fatalf("expected default line Line01, got %s", cfg.Enterprise.Line)
	}
	if cfg.TickInterval() != 100*time.Millisecond {
		t.Fatalf("tick interval helper: %s", cfg.TickInterval())
	}
	if cfg.WeekStartTime().IsZero() {
		t.Fatalf("week start must parse")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must fall back to defaults: %v", err)
	}
	if cfg.Simulator.SpeedFactor != 60 {
		t.Fatalf("expected default speed 60, got %v", cfg.Simulator.SpeedFactor)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"negative speed": "simulator:\n  speed_factor: -5\n",
		"bad week start": "simulator:\n  week_start: not-a-time\n",
		"port range":     "modbus:\n  port: 70000\n",
		"reject prob":    "production:\n  base_reject_probability: 2\n",
		"negative rate":  "microstop:\n  rates:\n    MS01: -1\n",
		"broken yaml":    "simulator: [\n",
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := Load(path)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
