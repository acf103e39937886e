package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid tags configuration errors so the CLI can map them onto its
// exit code.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Simulator  SimulatorConfig  `yaml:"simulator"`
	Modbus     ModbusConfig     `yaml:"modbus"`
	Production ProductionConfig `yaml:"production"`
	Microstop  MicrostopConfig  `yaml:"microstop"`
	Breakdowns BreakdownConfig  `yaml:"breakdowns"`
	Enterprise EnterpriseConfig `yaml:"enterprise"`
	Logging    LoggingConfig    `yaml:"logging"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type SimulatorConfig struct {
	InstanceID     string  `yaml:"instance_id"`
	SpeedFactor    float64 `yaml:"speed_factor"`
	TickIntervalMS int     `yaml:"tick_interval_ms"`
	Seed           int64   `yaml:"seed"`
	WeekStart      string  `yaml:"week_start"` // RFC 3339; schedule origin
}

type ModbusConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	FallbackPort int    `yaml:"fallback_port"`
	UnitID       uint8  `yaml:"unit_id"`
	IdleTimeoutS int    `yaml:"idle_timeout_s"`
}

type ProductionConfig struct {
	BaseRejectProbability      float64            `yaml:"base_reject_probability"`
	RejectMix                  map[string]float64 `yaml:"reject_mix"`
	LabelStockInitialPct       float64            `yaml:"label_stock_initial_pct"`
	LabelStockDepletionPer1000 float64            `yaml:"label_stock_depletion_per_1000"`
	CapStockInitialPct         float64            `yaml:"cap_stock_initial_pct"`
	ScaleStabilizationMS       int                `yaml:"scale_stabilization_ms"`
}

type MicrostopConfig struct {
	MeanIntervalS float64            `yaml:"mean_interval_s"`
	Rates         map[string]float64 `yaml:"rates"` // per hour, by stop code
}

type BreakdownConfig struct {
	MajorDurationMin float64 `yaml:"major_duration_min"`
	MajorJitterPct   float64 `yaml:"major_jitter_pct"`
	MinorDurationLo  float64 `yaml:"minor_duration_min_lo"`
	MinorDurationHi  float64 `yaml:"minor_duration_min_hi"`
}

type EnterpriseConfig struct {
	Name string `yaml:"name"`
	Site string `yaml:"site"`
	Area string `yaml:"area"`
	Line string `yaml:"line"`
}

type LoggingConfig struct {
	TransactionsFile string `yaml:"transactions_file"`
	Console          bool   `yaml:"console"`
	QueueLen         int    `yaml:"queue_len"`
}

type ArchiveConfig struct {
	ConnString      string `yaml:"conn_string"`
	Table           string `yaml:"table"`
	BatchSize       int    `yaml:"batch_size"`
	FlushIntervalMS int    `yaml:"flush_interval_ms"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML file, fills defaults, and validates. A missing file
// is not an error; the built-in defaults describe a complete simulator.
func Load(path string) (*Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Simulator.InstanceID == "" {
		c.Simulator.InstanceID = "sim01"
	}
	if c.Simulator.SpeedFactor == 0 {
		c.Simulator.SpeedFactor = 60.0
	}
	if c.Simulator.TickIntervalMS == 0 {
		c.Simulator.TickIntervalMS = 100
	}
	if c.Simulator.Seed == 0 {
		c.Simulator.Seed = 1
	}
	if c.Simulator.WeekStart == "" {
		c.Simulator.WeekStart = "2025-01-06T06:00:00Z"
	}
	if c.Modbus.Host == "" {
		c.Modbus.Host = "0.0.0.0"
	}
	if c.Modbus.Port == 0 {
		c.Modbus.Port = 502
	}
	if c.Modbus.FallbackPort == 0 {
		c.Modbus.FallbackPort = 5020
	}
	if c.Modbus.UnitID == 0 {
		c.Modbus.UnitID = 1
	}
	if c.Modbus.IdleTimeoutS == 0 {
		c.Modbus.IdleTimeoutS = 30
	}
	if c.Production.BaseRejectProbability == 0 {
		c.Production.BaseRejectProbability = 0.005
	}
	if len(c.Production.RejectMix) == 0 {
		c.Production.RejectMix = map[string]float64{
			"weight": 0.5, "torque": 0.2, "barcode": 0.1, "label": 0.1, "hazard_label": 0.1,
		}
	}
	if c.Production.LabelStockInitialPct == 0 {
		c.Production.LabelStockInitialPct = 95
	}
	if c.Production.LabelStockDepletionPer1000 == 0 {
		c.Production.LabelStockDepletionPer1000 = 3.0
	}
	if c.Production.CapStockInitialPct == 0 {
		c.Production.CapStockInitialPct = 98
	}
	if c.Production.ScaleStabilizationMS == 0 {
		c.Production.ScaleStabilizationMS = 250
	}
	if c.Microstop.MeanIntervalS == 0 {
		c.Microstop.MeanIntervalS = 480
	}
	if c.Breakdowns.MajorDurationMin == 0 {
		c.Breakdowns.MajorDurationMin = 60
	}
	if c.Breakdowns.MajorJitterPct == 0 {
		c.Breakdowns.MajorJitterPct = 10
	}
	if c.Breakdowns.MinorDurationLo == 0 {
		c.Breakdowns.MinorDurationLo = 5
	}
	if c.Breakdowns.MinorDurationHi == 0 {
		c.Breakdowns.MinorDurationHi = 20
	}
	if c.Enterprise.Name == "" {
		c.Enterprise.Name = "Aerogen"
	}
	if c.Enterprise.Site == "" {
		c.Enterprise.Site = "Shannon"
	}
	if c.Enterprise.Area == "" {
		c.Enterprise.Area = "Bottling"
	}
	if c.Enterprise.Line == "" {
		c.Enterprise.Line = "Line01"
	}
	if c.Logging.TransactionsFile == "" {
		c.Logging.TransactionsFile = "logs/transactions.jsonl"
	}
	if c.Logging.QueueLen == 0 {
		c.Logging.QueueLen = 1024
	}
	if c.Archive.Table == "" {
		c.Archive.Table = "transaction_events"
	}
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = 200
	}
	if c.Archive.FlushIntervalMS == 0 {
		c.Archive.FlushIntervalMS = 2000
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
}

func (c *Config) validate() error {
	if c.Simulator.SpeedFactor <= 0 {
		return fmt.Errorf("%w: simulator.speed_factor must be > 0", ErrInvalid)
	}
	if c.Simulator.TickIntervalMS <= 0 {
		return fmt.Errorf("%w: simulator.tick_interval_ms must be > 0", ErrInvalid)
	}
	if _, err := time.Parse(time.RFC3339, c.Simulator.WeekStart); err != nil {
		return fmt.Errorf("%w: simulator.week_start: %v", ErrInvalid, err)
	}
	if c.Modbus.Port <= 0 || c.Modbus.Port > 65535 {
		return fmt.Errorf("%w: modbus.port out of range", ErrInvalid)
	}
	if c.Production.BaseRejectProbability < 0 || c.Production.BaseRejectProbability >= 1 {
		return fmt.Errorf("%w: production.base_reject_probability out of range", ErrInvalid)
	}
	for code, rate := range c.Microstop.Rates {
		if rate < 0 {
			return fmt.Errorf("%w: microstop.rates[%s] negative", ErrInvalid, code)
		}
	}
	if c.Logging.TransactionsFile == "" {
		return fmt.Errorf("%w: logging.transactions_file is required", ErrInvalid)
	}
	return nil
}

// WeekStartTime returns the parsed schedule origin. Load guarantees it
// parses.
func (c *Config) WeekStartTime() time.Time {
	t, _ := time.Parse(time.RFC3339, c.Simulator.WeekStart)
	return t
}

// TickInterval is the virtual tick as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Simulator.TickIntervalMS) * time.Millisecond
}
