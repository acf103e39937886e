package bottlesim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/adapters/archive"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/adapters/emitter"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/adapters/modbus"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/adapters/observability"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/app/config"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/ports"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/sim"
)

// Config re-exports the root configuration so embedders can construct it
// programmatically.
type Config = config.Config

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	clock         ports.Clock
	events        ports.EventWriter
	archive       ports.EventArchive
	observability ports.Observability
	schedule      []domain.ScheduleBlock
	catalogue     *domain.Catalogue
}

// WithClock injects a custom clock (e.g. a deterministic test clock).
func WithClock(c ports.Clock) RuntimeOption {
	return func(o *runtimeOverrides) { o.clock = c }
}

// WithEventWriter replaces the JSONL file emitter.
func WithEventWriter(w ports.EventWriter) RuntimeOption {
	return func(o *runtimeOverrides) { o.events = w }
}

// WithArchive injects a custom historian sink.
func WithArchive(a ports.EventArchive) RuntimeOption {
	return func(o *runtimeOverrides) { o.archive = a }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.observability = obs }
}

// WithSchedule replaces the built-in week plan, e.g. with the output of
// the external workbook loader.
func WithSchedule(blocks []domain.ScheduleBlock) RuntimeOption {
	return func(o *runtimeOverrides) { o.schedule = blocks }
}

// WithCatalogue replaces the built-in SKU/BOM tables.
func WithCatalogue(cat *domain.Catalogue) RuntimeOption {
	return func(o *runtimeOverrides) { o.catalogue = cat }
}

// Runtime wires the simulator, the Modbus surface, the event log, and the
// optional archive into one process.
type Runtime struct {
	cfg    *Config
	obs    ports.Observability
	clock  ports.Clock
	bank   *sim.Bank
	events ports.EventWriter
	sim    *sim.Simulator
	server *modbus.Server

	db           *sql.DB
	archiveCh    chan *domain.Event
	archiveDone  chan struct{}
	archiveSink  ports.EventArchive
	metricsSrv   *http.Server
	ownedEmitter *emitter.FileEmitter
}

// NewRuntime bootstraps the default adapters (virtual clock, file emitter,
// Prometheus observability, built-in catalogue and week schedule) and
// validates the schedule. RuntimeOption values override any dependency.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs()
	}

	cat := overrides.catalogue
	if cat == nil {
		cat = domain.BuiltInCatalogue()
	}

	majorDur := time.Duration(cfg.Breakdowns.MajorDurationMin * float64(time.Minute))
	sched := overrides.schedule
	if sched == nil {
		sched = sim.BuiltInSchedule(cfg.WeekStartTime(), cat, majorDur)
	}
	if err := sim.ValidateSchedule(sched, cat); err != nil {
		return nil, err
	}

	clock := overrides.clock
	if clock == nil {
		clock = sim.NewVirtualClock(cfg.WeekStartTime(), cfg.Simulator.SpeedFactor)
	}

	rt := &Runtime{cfg: cfg, obs: obs, clock: clock, bank: sim.NewBank()}

	events := overrides.events
	if events == nil {
		fe, err := emitter.New(emitter.Config{
			Path:       cfg.Logging.TransactionsFile,
			QueueLen:   cfg.Logging.QueueLen,
			Enterprise: cfg.Enterprise.Name,
			Site:       cfg.Enterprise.Site,
			Area:       cfg.Enterprise.Area,
			Line:       cfg.Enterprise.Line,
			ActorID:    cfg.Simulator.InstanceID,
			Console:    cfg.Logging.Console,
		}, obs)
		if err != nil {
			return nil, err
		}
		rt.ownedEmitter = fe
		events = fe
	}

	rt.archiveSink = overrides.archive
	if rt.archiveSink == nil && cfg.Archive.ConnString != "" {
		db, err := sql.Open("postgres", cfg.Archive.ConnString)
		if err != nil {
			return nil, fmt.Errorf("open archive db: %w", err)
		}
		rt.db = db
		rt.archiveSink = archive.NewTimescaleArchive(db, cfg.Archive.Table)
	}
	if rt.archiveSink != nil {
		rt.archiveCh = make(chan *domain.Event, cfg.Logging.QueueLen)
		events = &teeWriter{primary: events, archive: rt.archiveCh, obs: obs}
	}
	rt.events = events

	rng := rand.New(rand.NewSource(cfg.Simulator.Seed))
	rates := cfg.Microstop.Rates
	if len(rates) == 0 {
		rates = sim.DefaultMicrostopRates(cfg.Microstop.MeanIntervalS)
	}
	rt.sim = sim.NewSimulator(sim.Params{
		Tick:                       cfg.TickInterval(),
		SpeedFactor:                cfg.Simulator.SpeedFactor,
		BaseRejectProbability:      cfg.Production.BaseRejectProbability,
		RejectMix:                  cfg.Production.RejectMix,
		LabelStockInitialPct:       cfg.Production.LabelStockInitialPct,
		LabelStockDepletionPer1000: cfg.Production.LabelStockDepletionPer1000,
		ScaleStabilization:         time.Duration(cfg.Production.ScaleStabilizationMS) * time.Millisecond,
		MicrostopRates:             rates,
		MajorDuration:              majorDur,
		MajorJitterPct:             cfg.Breakdowns.MajorJitterPct,
		MinorLo:                    time.Duration(cfg.Breakdowns.MinorDurationLo * float64(time.Minute)),
		MinorHi:                    time.Duration(cfg.Breakdowns.MinorDurationHi * float64(time.Minute)),
	}, clock, rt.bank, events, obs, cat, sched, rng)

	rt.server = modbus.NewServer(modbus.Config{
		Host:         cfg.Modbus.Host,
		Port:         cfg.Modbus.Port,
		FallbackPort: cfg.Modbus.FallbackPort,
		UnitID:       cfg.Modbus.UnitID,
		IdleTimeout:  time.Duration(cfg.Modbus.IdleTimeoutS) * time.Second,
	}, rt.bank, obs)

	return rt, nil
}

// ModbusPort is the bound Modbus port, available once Run has started the
// server.
func (r *Runtime) ModbusPort() int { return r.server.Port() }

// Run starts the Modbus surface, the metrics endpoint, and the archive
// forwarder, then blocks in the tick loop until the schedule finishes or
// ctx is cancelled. Shutdown is graceful within a bounded grace period.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.server.Start(); err != nil {
		if r.ownedEmitter != nil {
			_ = r.ownedEmitter.Close()
		}
		return err
	}
	r.startMetrics()
	if r.archiveSink != nil {
		r.archiveDone = make(chan struct{})
		go r.forwardToArchive()
	}

	simErr := r.sim.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(simErr, r.Shutdown(shutdownCtx))
}

// Shutdown closes the server, drains the emitter and archive, and stops
// the metrics endpoint.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if err := r.server.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		errs = append(errs, err)
	}

	if r.archiveCh != nil {
		close(r.archiveCh)
		<-r.archiveDone
		r.archiveCh = nil
	}

	if r.ownedEmitter != nil {
		if err := r.ownedEmitter.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
}

// forwardToArchive batches emitted events into the historian. Failed
// batches stay pending and retry on the next flush; once more than ten
// batches' worth is pending after a failure, only the newest BatchSize
// events are kept. The archive never blocks or fails the simulator.
func (r *Runtime) forwardToArchive() {
	defer close(r.archiveDone)

	interval := time.Duration(r.cfg.Archive.FlushIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []*domain.Event
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := r.archiveSink.WriteBatch(pending); err != nil {
			r.obs.LogError("archive_write_failed", err,
				ports.Field{Key: "batch", Value: len(pending)})
			if len(pending) > r.cfg.Archive.BatchSize*10 {
				pending = pending[len(pending)-r.cfg.Archive.BatchSize:]
			}
			return
		}
		r.obs.IncCounter("bottlesim_archive_batches_total", 1)
		pending = pending[:0]
	}

	for {
		select {
		case evt, ok := <-r.archiveCh:
			if !ok {
				flush()
				return
			}
			pending = append(pending, evt)
			if len(pending) >= r.cfg.Archive.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// teeWriter forwards events to the durable log first, then offers a copy
// to the archive forwarder without ever blocking the tick loop.
type teeWriter struct {
	primary ports.EventWriter
	archive chan<- *domain.Event
	obs     ports.Observability
}

func (t *teeWriter) Emit(evt *domain.Event) error {
	if err := t.primary.Emit(evt); err != nil {
		return err
	}
	select {
	case t.archive <- evt:
	default:
		t.obs.LogError("archive_queue_full", fmt.Errorf("event %s dropped from archive feed", evt.EventID))
	}
	return nil
}

func (t *teeWriter) Close() error {
	return t.primary.Close()
}
