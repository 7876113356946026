// Package metrics holds the Prometheus instrumentation for the dispatch
// engine.
package metrics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fixline/backend/internal/events"
)

// Metrics holds all Prometheus metrics for the dispatch engine.
type Metrics struct {
	// Job metrics
	JobsCreated    *prometheus.CounterVec
	JobTransitions *prometheus.CounterVec

	// Offer metrics
	OffersTotal *prometheus.CounterVec

	// Scoring metrics
	PenaltiesTotal *prometheus.CounterVec

	// SLA metrics
	SlaWarnings *prometheus.CounterVec

	// HTTP metrics
	HTTPDuration *prometheus.HistogramVec

	// Event stream metrics
	EventsPublished *prometheus.CounterVec

	// Realtime metrics
	SocketConnections *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		JobsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_jobs_created_total",
				Help: "Total jobs created, by priority",
			},
			[]string{"priority"},
		),

		JobTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_job_transitions_total",
				Help: "Total job status transitions, by target status",
			},
			[]string{"to"},
		),

		OffersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_offers_total",
				Help: "Total offer outcomes",
			},
			[]string{"outcome"}, // outcome: created, accepted, declined, expired
		),

		PenaltiesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_penalties_total",
				Help: "Total score penalties applied, by type",
			},
			[]string{"penalty_type"},
		),

		SlaWarnings: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_sla_warnings_total",
				Help: "Total SLA deadline warnings emitted, by kind",
			},
			[]string{"kind"},
		),

		HTTPDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),

		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_events_published_total",
				Help: "Total domain events published on the bus, by type",
			},
			[]string{"type"},
		),

		SocketConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatch_socket_connections",
				Help: "Open socket connections, by namespace",
			},
			[]string{"namespace"},
		),
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method, status string, elapsed time.Duration) {
	m.HTTPDuration.WithLabelValues(route, method, status).Observe(elapsed.Seconds())
}

// SocketConnected tracks a new realtime connection.
func (m *Metrics) SocketConnected(namespace string) {
	m.SocketConnections.WithLabelValues(namespace).Inc()
}

// SocketDisconnected tracks a closed realtime connection.
func (m *Metrics) SocketDisconnected(namespace string) {
	m.SocketConnections.WithLabelValues(namespace).Dec()
}

// AttachBus derives the domain counters from the event stream so every code
// path that writes the outbox is counted without explicit instrumentation.
func (m *Metrics) AttachBus(bus events.Bus) {
	bus.Subscribe(events.Wildcard, func(_ context.Context, ev events.Event) {
		m.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	})

	bus.Subscribe(events.JobCreated, func(_ context.Context, ev events.Event) {
		var p events.JobCreatedPayload
		if json.Unmarshal(ev.Payload, &p) == nil && p.Priority != "" {
			m.JobsCreated.WithLabelValues(p.Priority).Inc()
			return
		}
		m.JobsCreated.WithLabelValues("unknown").Inc()
	})

	bus.Subscribe(events.JobStatusChanged, func(_ context.Context, ev events.Event) {
		var p events.StatusChangedPayload
		if json.Unmarshal(ev.Payload, &p) == nil && p.To != "" {
			m.JobTransitions.WithLabelValues(p.To).Inc()
		}
	})

	offerOutcomes := map[events.Type]string{
		events.OfferCreated:  "created",
		events.OfferAccepted: "accepted",
		events.OfferDeclined: "declined",
		events.OfferExpired:  "expired",
	}
	for typ, outcome := range offerOutcomes {
		outcome := outcome
		bus.Subscribe(typ, func(_ context.Context, _ events.Event) {
			m.OffersTotal.WithLabelValues(outcome).Inc()
		})
	}

	bus.Subscribe(events.ProviderPenalized, func(_ context.Context, ev events.Event) {
		var p events.PenaltyPayload
		if json.Unmarshal(ev.Payload, &p) == nil && p.PenaltyType != "" {
			m.PenaltiesTotal.WithLabelValues(p.PenaltyType).Inc()
		}
	})

	bus.Subscribe(events.SlaWarning, func(_ context.Context, ev events.Event) {
		var p struct {
			Kind string `json:"kind"`
		}
		if json.Unmarshal(ev.Payload, &p) == nil && p.Kind != "" {
			m.SlaWarnings.WithLabelValues(p.Kind).Inc()
		}
	})
}
