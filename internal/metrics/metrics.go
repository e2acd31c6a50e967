// Package metrics exposes prediction counters and inference latencies in
// the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cropguard"

// Inference stages.
const (
	StageCrop    = "crop"
	StageDisease = "disease"
)

// Metrics is a set of collectors on a private registry. A nil *Metrics
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	predictions   *prometheus.CounterVec
	inference     *prometheus.HistogramVec
	requestErrors *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Completed two-stage predictions by resulting label pair.",
		}, []string{"crop", "disease"}),
		inference: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Forward pass latency per stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"stage"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Failed requests by endpoint and error kind.",
		}, []string{"endpoint", "kind"}),
	}

	m.Registry.MustRegister(
		m.predictions,
		m.inference,
		m.requestErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObservePrediction(crop, disease string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(crop, disease).Inc()
}

func (m *Metrics) ObserveInference(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.inference.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RequestError(endpoint, kind string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(endpoint, kind).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
