// Package metrics provides Prometheus metrics for the routing pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics. A nil *Metrics records nothing.
type Metrics struct {
	ClassificationsTotal    *prometheus.CounterVec
	StatusTransitionsTotal  *prometheus.CounterVec
	CompletionMessagesTotal *prometheus.CounterVec
	PollAttemptsTotal       prometheus.Counter
	TemplateCacheTotal      *prometheus.CounterVec
	NotificationsTotal      *prometheus.CounterVec
	HubClients              prometheus.Gauge
}

// Default returns process-wide metrics registered on the default registry.
var Default = sync.OnceValue(func() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
})

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ClassificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrouting_classifications_total",
				Help: "Document classifications by outcome",
			},
			[]string{"outcome"},
		),
		StatusTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrouting_status_transitions_total",
				Help: "Persisted document status transitions by target status",
			},
			[]string{"status"},
		),
		CompletionMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrouting_completion_messages_total",
				Help: "OCR completion messages by handling outcome",
			},
			[]string{"outcome"},
		),
		PollAttemptsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docrouting_ocr_poll_attempts_total",
				Help: "Calls to the OCR engine job status endpoint",
			},
		),
		TemplateCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrouting_template_cache_requests_total",
				Help: "Template cache lookups by result",
			},
			[]string{"result"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrouting_notifications_total",
				Help: "Realtime notifications by delivery result",
			},
			[]string{"result"},
		),
		HubClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docrouting_hub_clients",
				Help: "Websocket clients currently connected to the realtime hub",
			},
		),
	}
}

func (m *Metrics) ObserveClassification(outcome string) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.StatusTransitionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveCompletion(outcome string) {
	if m == nil {
		return
	}
	m.CompletionMessagesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePoll() {
	if m == nil {
		return
	}
	m.PollAttemptsTotal.Inc()
}

func (m *Metrics) ObserveTemplateCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TemplateCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

// ObserveHubClients records the number of connected websocket clients.
func (m *Metrics) ObserveHubClients(n int) {
	if m == nil {
		return
	}
	m.HubClients.Set(float64(n))
}
