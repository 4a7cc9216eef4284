package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/webshot/internal/progress"
)

// PrometheusSink exports run and capture progress via Prometheus.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runRuntime    *prometheus.HistogramVec

	capturesInFlight prometheus.Gauge
	captures         *prometheus.CounterVec
	captureBytes     *prometheus.CounterVec
	captureDuration  *prometheus.HistogramVec

	mu       sync.Mutex
	inFlight map[flightKey]struct{}
}

type flightKey struct {
	run  [16]byte
	slot int
	url  string
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webshot_runs_started_total",
			Help: "Total capture runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webshot_runs_completed_total",
			Help: "Capture runs completed partitioned by result.",
		}, []string{"result"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webshot_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		capturesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webshot_captures_in_flight",
			Help: "Captures currently running across all worker slots.",
		}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webshot_captures_total",
			Help: "Capture outcomes partitioned by site and status.",
		}, []string{"site", "status"}),
		captureBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webshot_capture_bytes_total",
			Help: "Screenshot bytes stored per site.",
		}, []string{"site"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webshot_capture_duration_seconds",
			Help:    "Capture duration partitioned by status.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"status"}),
		inFlight: make(map[flightKey]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRuntime,
		s.capturesInFlight,
		s.captures,
		s.captureBytes,
		s.captureDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
		case progress.StageRunDone:
			s.finishRun(evt, "success")
		case progress.StageRunError:
			s.finishRun(evt, "error")
		case progress.StageCaptureStart:
			if s.track(evt, true) {
				s.capturesInFlight.Inc()
			}
		case progress.StageCaptureDone:
			if s.track(evt, false) {
				s.capturesInFlight.Dec()
			}
			s.observeCapture(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeCapture(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	s.captures.WithLabelValues(site, evt.Outcome).Inc()
	if evt.Bytes > 0 {
		s.captureBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.captureDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
	}
}

// track records a start (or clears it on done) and reports whether the gauge
// should move. A done without a matching start leaves the gauge alone.
func (s *PrometheusSink) track(evt progress.Event, start bool) bool {
	key := flightKey{run: evt.RunID, slot: evt.Slot, url: evt.URL}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	if start {
		if ok {
			return false
		}
		s.inFlight[key] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.inFlight, key)
	return true
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
