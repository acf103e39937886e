package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromObsMetrics(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	obs := NewPromObs()

	obs.IncCounter("bottlesim_bottles_good_total", 600)
	if got := testutil.ToFloat64(obs.counters["bottlesim_bottles_good_total"]); got != 600 {
		t.Fatalf("expected good counter 600, got %f", got)
	}

	obs.IncCounter("bottlesim_microstops_total", 3)
	if got := testutil.ToFloat64(obs.counters["bottlesim_microstops_total"]); got != 3 {
		t.Fatalf("expected microstop counter 3, got %f", got)
	}

	obs.SetGauge("bottlesim_line_state", 4)
	if got := testutil.ToFloat64(obs.gauges["bottlesim_line_state"]); got != 4 {
		t.Fatalf("expected line state gauge 4, got %f", got)
	}

	obs.ObserveLatency("bottlesim_event_flush_seconds", 0.002)
	hCollector := obs.histos["bottlesim_event_flush_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected flush histogram to record 1 sample, got %d", samples)
	}

	// Unknown names are ignored rather than panicking.
	obs.IncCounter("not_a_metric", 1)
	obs.SetGauge("not_a_metric", 1)
	obs.ObserveLatency("not_a_metric", 1)
}
