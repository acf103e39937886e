package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/ports"
)

type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	goodBottles := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bottlesim_bottles_good_total",
		Help: "Bottles completed good.",
	})
	rejectBottles := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bottlesim_bottles_reject_total",
		Help: "Bottles completed rejected.",
	})
	eventsEmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bottlesim_events_emitted_total",
		Help: "Transaction events appended to the log.",
	})
	eventsRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bottlesim_events_rejected_total",
		Help: "Transaction events that failed schema validation.",
	})
	microstops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bottlesim_microstops_total",
		Help: "Microstop episodes opened.",
	})
	faults := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bottlesim_faults_total",
		Help: "Fault episodes opened.",
	})
	modbusRequests := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bottlesim_modbus_requests_total",
		Help: "Modbus requests served.",
	})
	archiveBatches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bottlesim_archive_batches_total",
		Help: "Event batches written to the archive sink.",
	})
	lineState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bottlesim_line_state",
		Help: "Published line_state enum value.",
	})
	goodCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bottlesim_good_count",
		Help: "Monotonic good counter.",
	})
	rejectCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bottlesim_reject_count",
		Help: "Monotonic reject counter.",
	})
	queueLen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bottlesim_emitter_queue_length",
		Help: "Events buffered between the tick loop and the flusher.",
	})
	flushLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bottlesim_event_flush_seconds",
		Help:    "Append+fsync latency per transaction event.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
	modbusLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bottlesim_modbus_request_seconds",
		Help:    "Modbus request service latency.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
	})

	prometheus.MustRegister(goodBottles, rejectBottles, eventsEmitted, eventsRejected,
		microstops, faults, modbusRequests, archiveBatches,
		lineState, goodCount, rejectCount, queueLen, flushLatency, modbusLatency)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"bottlesim_bottles_good_total":    goodBottles,
			"bottlesim_bottles_reject_total":  rejectBottles,
			"bottlesim_events_emitted_total":  eventsEmitted,
			"bottlesim_events_rejected_total": eventsRejected,
			"bottlesim_microstops_total":      microstops,
			"bottlesim_faults_total":          faults,
			"bottlesim_modbus_requests_total": modbusRequests,
			"bottlesim_archive_batches_total": archiveBatches,
		},
		gauges: map[string]prometheus.Gauge{
			"bottlesim_line_state":           lineState,
			"bottlesim_good_count":           goodCount,
			"bottlesim_reject_count":         rejectCount,
			"bottlesim_emitter_queue_length": queueLen,
		},
		histos: map[string]prometheus.Observer{
			"bottlesim_event_flush_seconds":    flushLatency,
			"bottlesim_modbus_request_seconds": modbusLatency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
	}
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("CRITICAL: %s: %v%s", msg, err, formatFields(fields))
	}
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

var _ ports.Observability = (*PromObs)(nil)
