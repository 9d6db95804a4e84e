// Package metrics exports experiment invocations as Prometheus metrics via an
// xp.Callback.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thalesfsp/xp"
)

// Metrics holds the collectors. One value may be shared by several
// experiments; attach a Callback per experiment.
type Metrics struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
	duration  *prometheus.HistogramVec
}

// New registers the collectors with reg. Nil uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		started: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xp_invocations_started_total",
				Help: "Total number of experiment invocations started",
			},
			[]string{"experiment"},
		),
		completed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xp_invocations_completed_total",
				Help: "Total number of experiment invocations that returned a result",
			},
			[]string{"experiment"},
		),
		failed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xp_invocations_failed_total",
				Help: "Total number of experiment invocations whose computation failed",
			},
			[]string{"experiment"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xp_invocations_in_flight",
				Help: "Number of experiment invocations running",
			},
			[]string{"experiment"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xp_invocation_duration_seconds",
				Help:    "Computation duration in seconds",
				Buckets: []float64{.001, .01, .1, .5, 1, 5, 30, 60, 300, 1800, 3600},
			},
			[]string{"experiment"},
		),
	}
}

// Callback returns a callback feeding m. Series are labelled with the name of
// the experiment being invoked, so one callback can serve many experiments.
func (m *Metrics) Callback() xp.Callback {
	return &callback{m: m}
}

type callback struct {
	xp.BaseCallback

	m *Metrics
}

func (c *callback) Name() string { return "metrics" }

func (c *callback) Start(ctx context.Context, _ string, _ xp.Config) error {
	name := experimentName(ctx)

	c.m.started.WithLabelValues(name).Inc()
	c.m.inFlight.WithLabelValues(name).Inc()

	return nil
}

func (c *callback) End(ctx context.Context, obs *xp.Observation) error {
	name := experimentName(ctx)

	c.m.completed.WithLabelValues(name).Inc()
	c.m.inFlight.WithLabelValues(name).Dec()

	if timing, ok := obs.Metadata[xp.MetaTiming].(map[string]any); ok {
		if seconds, ok := xp.AsFloat(timing["duration"]); ok {
			c.m.duration.WithLabelValues(name).Observe(seconds)
		}
	}

	return nil
}

func (c *callback) Fail(ctx context.Context, _ string, _ xp.Config, _ error) {
	name := experimentName(ctx)

	c.m.failed.WithLabelValues(name).Inc()
	c.m.inFlight.WithLabelValues(name).Dec()
}

func experimentName(ctx context.Context) string {
	name, err := xp.CurrentExperiment(ctx)
	if err != nil {
		return "unknown"
	}

	return name
}
