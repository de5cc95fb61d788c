// Package metrics exposes runtime counters to Prometheus and serves the
// small HTTP status surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/acolita/rotinas/internal/supervisor"
)

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	fires       *prometheus.CounterVec
	locate      *prometheus.HistogramVec
	state       prometheus.Gauge
}

// New registers the rotinas collectors and the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotinas_runs_started_total",
				Help: "Rotina runs started, by origin and trigger.",
			},
			[]string{"origin", "auto"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotinas_runs_total",
				Help: "Finished rotina runs, by origin and outcome.",
			},
			[]string{"origin", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotinas_run_duration_seconds",
				Help:    "Duration of finished rotina runs.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"origin"},
		),
		fires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotinas_autotrigger_fires_total",
				Help: "Rotinas started by the auto-trigger watcher.",
			},
			[]string{"rotina"},
		),
		locate: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotinas_locate_seconds",
				Help:    "Time spent waiting for text on screen.",
				Buckets: []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"found"},
		),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rotinas_state",
			Help: "Execution state: 0 stopped, 1 running, 2 paused.",
		}),
	}
	m.registry.MustRegister(
		m.runsStarted, m.runs, m.runDuration, m.fires, m.locate, m.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunStarted implements supervisor.Observer.
func (m *Metrics) RunStarted(origin string, autoRun bool) {
	m.runsStarted.WithLabelValues(origin, strconv.FormatBool(autoRun)).Inc()
}

// RunFinished implements supervisor.Observer.
func (m *Metrics) RunFinished(origin, outcome string, elapsed time.Duration) {
	m.runs.WithLabelValues(origin, outcome).Inc()
	if outcome != supervisor.OutcomeBusy {
		m.runDuration.WithLabelValues(origin).Observe(elapsed.Seconds())
	}
}

// StateChanged implements supervisor.Observer.
func (m *Metrics) StateChanged(state supervisor.State) {
	m.state.Set(float64(state))
}

// AutoTriggerFired counts a rotina started by the watcher.
func (m *Metrics) AutoTriggerFired(path string) {
	m.fires.WithLabelValues(path).Inc()
}

// Located records one localizarTexto wait.
func (m *Metrics) Located(elapsed time.Duration, found bool) {
	m.locate.WithLabelValues(strconv.FormatBool(found)).Observe(elapsed.Seconds())
}

var _ supervisor.Observer = (*Metrics)(nil)
