// Package metrics defines the Prometheus metric set for the simulator.
//
// Metric naming follows Prometheus conventions: atellica_ prefix, _total
// suffix for counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthSource supplies the tube gauges. Satisfied by *core.Store.
type HealthSource interface {
	OnboardCount() int
	CompletedCount() int
}

// Metrics holds every collector on one registry, served by the operator API.
type Metrics struct {
	registry *prometheus.Registry

	// LASFrames counts inbound LAS frames by message kind and disposition
	// (ack, nack_malformed, nack_unsupported).
	LASFrames *prometheus.CounterVec
	// LASResponses counts outbound LAS messages by kind.
	LASResponses *prometheus.CounterVec
	// LISTransmissions counts complete inbound LIS transmissions.
	LISTransmissions prometheus.Counter
	// LISResultsSent counts result transmissions pushed to LIS clients.
	LISResultsSent prometheus.Counter
	// SamplesReceived counts order intake by outcome.
	SamplesReceived *prometheus.CounterVec
	// ResultsGenerated counts completed samples.
	ResultsGenerated prometheus.Counter
	// LASConnections and LISConnections track live sessions.
	LASConnections prometheus.Gauge
	LISConnections prometheus.Gauge
}

// New creates the metric set. health may be nil in tests.
func New(health HealthSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LASFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atellica_las_frames_total",
				Help: "Inbound LAS frames by message kind and disposition.",
			},
			[]string{"kind", "disposition"},
		),
		LASResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atellica_las_responses_total",
				Help: "Outbound LAS messages by kind.",
			},
			[]string{"kind"},
		),
		LISTransmissions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atellica_lis_transmissions_total",
				Help: "Complete inbound LIS transmissions.",
			},
		),
		LISResultsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atellica_lis_results_sent_total",
				Help: "Result transmissions pushed to LIS clients.",
			},
		),
		SamplesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atellica_samples_received_total",
				Help: "Order intake attempts by outcome.",
			},
			[]string{"outcome"},
		),
		ResultsGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atellica_results_generated_total",
				Help: "Samples completed by the result scheduler.",
			},
		),
		LASConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "atellica_las_connections",
				Help: "Live LAS sessions.",
			},
		),
		LISConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "atellica_lis_connections",
				Help: "Live LIS sessions.",
			},
		),
	}

	m.registry.MustRegister(
		m.LASFrames,
		m.LASResponses,
		m.LISTransmissions,
		m.LISResultsSent,
		m.SamplesReceived,
		m.ResultsGenerated,
		m.LASConnections,
		m.LISConnections,
	)

	if health != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "atellica_onboard_tubes",
				Help: "Samples awaiting results.",
			}, func() float64 { return float64(health.OnboardCount()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "atellica_completed_tubes",
				Help: "Samples completed since start.",
			}, func() float64 { return float64(health.CompletedCount()) }),
		)
	}

	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
