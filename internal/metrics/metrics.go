// Package metrics exports throttle decisions as Prometheus series.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/router-for-me/throttlegate/internal/ratelimit"
)

const namespace = "throttle"

// Observer records throttle events into Prometheus collectors.
type Observer struct {
	decisions     *prometheus.CounterVec
	counterErrors *prometheus.CounterVec
	configStale   prometheus.Gauge
}

var _ ratelimit.Observer = (*Observer)(nil)

// NewObserver creates the throttle collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Throttle decisions by category and outcome.",
		}, []string{"category", "decision"}),
		counterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_errors_total",
			Help:      "Counter store failures by category.",
		}, []string{"category"}),
		configStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_stale",
			Help:      "1 while the throttle configuration source is unreachable.",
		}),
	}
	if reg == nil {
		return o, nil
	}
	for _, c := range []prometheus.Collector{o.decisions, o.counterErrors, o.configStale} {
		if errRegister := reg.Register(c); errRegister != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", errRegister)
		}
	}
	return o, nil
}

// ObserveDecision counts one decision.
func (o *Observer) ObserveDecision(res ratelimit.Result) {
	o.decisions.WithLabelValues(res.Category.String(), res.Decision.String()).Inc()
}

// ObserveCounterError counts one counter store failure.
func (o *Observer) ObserveCounterError(category ratelimit.Category, _ error) {
	o.counterErrors.WithLabelValues(category.String()).Inc()
}

// ObserveConfigStale flips the stale gauge.
func (o *Observer) ObserveConfigStale(err error) {
	if err != nil {
		o.configStale.Set(1)
		return
	}
	o.configStale.Set(0)
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
