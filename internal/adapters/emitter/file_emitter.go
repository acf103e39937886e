package emitter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/ports"
)

// Config locates the transaction log and names the emitting hierarchy.
type Config struct {
	Path       string
	QueueLen   int
	Enterprise string
	Site       string
	Area       string
	Line       string
	ActorID    string
	Console    bool
}

// requiredFields is the per-type schema: a record missing one of these, or
// carrying it as null, is rejected.
var requiredFields = map[string][]string{
	domain.EventOrderStarted:        {"plannedQty", "plannedStartTs", "plannedEndTs"},
	domain.EventOrderCompleted:      {"goodCountDelta", "rejectCountDelta", "durationMs", "yield"},
	domain.EventStateChanged:        {"fromState", "toState"},
	domain.EventMicrostopStarted:    {"stopCode", "fingerprint"},
	domain.EventMicrostopEnded:      {"stopCode", "fingerprint", "durationMs"},
	domain.EventStopStarted:         {"stopCode"},
	domain.EventStopEnded:           {"stopCode", "durationMs"},
	domain.EventFaultRaised:         {"faultCode", "severity", "station"},
	domain.EventFaultCleared:        {"faultCode", "severity", "station"},
	domain.EventChangeoverStarted:   {"changeoverType"},
	domain.EventChangeoverCompleted: {"changeoverType", "durationMs"},
	domain.EventCIPStarted:          {},
	domain.EventCIPEnded:            {"durationMs"},
	domain.EventBottleCompleted:     {"result", "station"},
	domain.EventTransactionRejected: {"rejectedEventType", "rejectedEventId", "reasons"},
}

// FileEmitter appends one JSON record per line to the transaction log.
// Events pass through a bounded queue into a single flusher goroutine, so
// writes are totally ordered and each record is flushed to disk before the
// next is taken. A full queue blocks the producer; a failed append poisons
// the emitter and every later Emit returns the error.
type FileEmitter struct {
	cfg  Config
	file *os.File
	w    *bufio.Writer
	obs  ports.Observability

	queue chan *domain.Event
	done  chan struct{}

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	lastTS  time.Time
	fatal   error
	closed  bool
}

// New opens (creating directories as needed) the log for append and starts
// the flusher.
func New(cfg Config, obs ports.Observability) (*FileEmitter, error) {
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 1024
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transaction log: %w", err)
	}

	e := &FileEmitter{
		cfg:     cfg,
		file:    f,
		w:       bufio.NewWriter(f),
		obs:     obs,
		queue:   make(chan *domain.Event, cfg.QueueLen),
		done:    make(chan struct{}),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	go e.flushLoop()
	return e, nil
}

// Emit stamps the envelope, validates the record, and enqueues it. A
// record that fails validation is replaced by a TransactionRejected event;
// Emit itself only errors once the log is poisoned or the emitter is closed.
func (e *FileEmitter) Emit(evt *domain.Event) error {
	e.mu.Lock()
	if e.fatal != nil {
		err := e.fatal
		e.mu.Unlock()
		return err
	}
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("emitter closed")
	}
	e.stampLocked(evt)

	if reasons := e.validate(evt); len(reasons) > 0 {
		rejected := domain.NewEvent(domain.EventTransactionRejected, "", "", map[string]any{
			"rejectedEventType": evt.Type,
			"rejectedEventId":   evt.EventID,
			"reasons":           reasons,
		})
		rejected.OrderID = evt.OrderID
		rejected.SKU = evt.SKU
		e.stampLocked(rejected)
		e.mu.Unlock()
		e.obs.IncCounter("bottlesim_events_rejected_total", 1)
		e.queue <- rejected
		return nil
	}
	e.mu.Unlock()

	e.queue <- evt
	e.obs.SetGauge("bottlesim_emitter_queue_length", float64(len(e.queue)))
	return nil
}

// stampLocked assigns hierarchy, actor, validation, a monotonic ULID, and
// a non-decreasing wall timestamp. Caller holds mu.
func (e *FileEmitter) stampLocked(evt *domain.Event) {
	evt.Enterprise = e.cfg.Enterprise
	evt.Site = e.cfg.Site
	evt.Area = e.cfg.Area
	evt.Line = e.cfg.Line
	evt.Actor = domain.Actor{Type: "system", ID: e.cfg.ActorID}
	evt.Validation = domain.Validation{Status: "ACCEPTED", Version: "v1"}

	now := time.Now().UTC()
	if now.Before(e.lastTS) {
		now = e.lastTS
	}
	e.lastTS = now
	evt.TS = now
	evt.EventID = ulid.MustNew(ulid.Timestamp(now), e.entropy).String()
}

func (e *FileEmitter) validate(evt *domain.Event) []string {
	required, known := requiredFields[evt.Type]
	if !known {
		return []string{fmt.Sprintf("unknown eventType %q", evt.Type)}
	}
	var reasons []string
	for _, field := range required {
		v, ok := evt.Payload[field]
		if !ok || v == nil {
			reasons = append(reasons, fmt.Sprintf("missing required field %q", field))
		}
	}
	return reasons
}

func (e *FileEmitter) flushLoop() {
	defer close(e.done)
	for evt := range e.queue {
		e.mu.Lock()
		poisoned := e.fatal != nil
		e.mu.Unlock()
		if poisoned {
			continue
		}

		start := time.Now()
		if err := e.append(evt); err != nil {
			e.mu.Lock()
			e.fatal = fmt.Errorf("transaction log append: %w", err)
			e.mu.Unlock()
			e.obs.LogCritical("event_append_failed", err,
				ports.Field{Key: "eventType", Value: evt.Type})
			continue
		}
		e.obs.ObserveLatency("bottlesim_event_flush_seconds", time.Since(start).Seconds())
		e.obs.IncCounter("bottlesim_events_emitted_total", 1)
		if e.cfg.Console {
			e.obs.LogInfo("event",
				ports.Field{Key: "eventType", Value: evt.Type},
				ports.Field{Key: "eventId", Value: evt.EventID})
		}
	}
}

// append writes one record and forces it to disk so a crash never leaves a
// torn final line.
func (e *FileEmitter) append(evt *domain.Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(b); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := e.w.Flush(); err != nil {
		return err
	}
	return e.file.Sync()
}

// Close drains the queue, flushes, and releases the file. Returns the
// poisoning error, if any.
func (e *FileEmitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.queue)
	<-e.done

	flushErr := e.w.Flush()
	syncErr := e.file.Sync()
	closeErr := e.file.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, err := range []error{e.fatal, flushErr, syncErr, closeErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

var _ ports.EventWriter = (*FileEmitter)(nil)
