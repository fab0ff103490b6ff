// Package metrics holds the Prometheus collectors reported by turns.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "liteagent"

// Metrics exposes the collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	activeTurns  prometheus.Gauge
	events       *prometheus.CounterVec
	binds        *prometheus.CounterVec
	switches     prometheus.Counter
	emptyDeleted prometheus.Counter
	retries      *prometheus.CounterVec
	costUSD      prometheus.Counter
	tokens       *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns collectors registered once with the default registerer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers the collectors with reg, reusing collectors that are
// already registered under the same names. Other registration errors panic.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		turns: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "turn", Name: "total",
			Help: "Turns processed, by outcome.",
		}, []string{"outcome"})),
		turnDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "turn", Name: "duration_seconds",
			Help:    "Wall time of a turn from request to terminal event.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"})),
		activeTurns: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "turn", Name: "active",
			Help: "Turns currently streaming.",
		})),
		events: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "total",
			Help: "Events emitted, by wire type.",
		}, []string{"type"})),
		binds: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "binds_total",
			Help: "Session bind attempts, by outcome.",
		}, []string{"outcome"})),
		switches: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "task_switches_total",
			Help: "Runs that switched to the task already owning their session.",
		})),
		emptyDeleted: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "task", Name: "empty_deleted_total",
			Help: "Lazily created tasks deleted because the run produced no assistant message.",
		})),
		retries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "retries_total",
			Help: "Upstream open retries, by runtime.",
		}, []string{"runtime"})),
		costUSD: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "usage", Name: "cost_usd_total",
			Help: "Reported upstream cost in USD.",
		})),
		tokens: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "usage", Name: "tokens_total",
			Help: "Reported upstream tokens, by direction.",
		}, []string{"direction"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// TurnStarted marks a turn active and returns a func ending it with outcome.
func (m *Metrics) TurnStarted() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.activeTurns.Inc()
	var once sync.Once
	return func(outcome string) {
		once.Do(func() {
			m.activeTurns.Dec()
			m.turns.WithLabelValues(outcome).Inc()
			m.turnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		})
	}
}

// Event counts one emitted event.
func (m *Metrics) Event(wireType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(wireType).Inc()
}

// Bind counts one session bind.
func (m *Metrics) Bind(outcome string) {
	if m == nil {
		return
	}
	m.binds.WithLabelValues(outcome).Inc()
}

// TaskSwitch counts one collision-driven task switch.
func (m *Metrics) TaskSwitch() {
	if m == nil {
		return
	}
	m.switches.Inc()
}

// EmptyTaskDeleted counts one empty-task cleanup.
func (m *Metrics) EmptyTaskDeleted() {
	if m == nil {
		return
	}
	m.emptyDeleted.Inc()
}

// Retry counts one upstream open retry.
func (m *Metrics) Retry(runtime string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(runtime).Inc()
}

// Usage records a run's reported cost and tokens.
func (m *Metrics) Usage(costUSD float64, input, output int64) {
	if m == nil {
		return
	}
	if costUSD > 0 {
		m.costUSD.Add(costUSD)
	}
	if input > 0 {
		m.tokens.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		m.tokens.WithLabelValues("output").Add(float64(output))
	}
}
