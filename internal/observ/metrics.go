package observ

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters the core services update. A nil *Metrics is
// valid and records nothing, so tests can pass nil.
type Metrics struct {
	MessagesSent        *prometheus.CounterVec
	UserMessagesWritten prometheus.Counter
	PushNotifications   *prometheus.CounterVec
	CreateConflicts     *prometheus.CounterVec
	SendDuration        prometheus.Histogram

	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_messages_sent_total",
				Help: "Messages persisted, by recipient type.",
			},
			[]string{"recipient_type"},
		),
		UserMessagesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "courier_user_messages_written_total",
				Help: "Delivery markers written.",
			},
		),
		PushNotifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_push_notifications_total",
				Help: "Push gateway notifications, by result.",
			},
			[]string{"result"},
		),
		CreateConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_create_conflicts_total",
				Help: "Concurrent get-or-create races lost and recovered, by entity.",
			},
			[]string{"entity"},
		),
		SendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "courier_send_duration_seconds",
				Help:    "Time from validation to commit of one send.",
				Buckets: prometheus.DefBuckets,
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(
		m.MessagesSent,
		m.UserMessagesWritten,
		m.PushNotifications,
		m.CreateConflicts,
		m.SendDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
	)
	return m
}

func (m *Metrics) MessageSent(recipientType string, userMessages int) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(recipientType).Inc()
	m.UserMessagesWritten.Add(float64(userMessages))
}

// Push records "success" or "failure".
func (m *Metrics) Push(result string) {
	if m == nil {
		return
	}
	m.PushNotifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Conflict(entity string) {
	if m == nil {
		return
	}
	m.CreateConflicts.WithLabelValues(entity).Inc()
}

func (m *Metrics) ObserveSend(seconds float64) {
	if m == nil {
		return
	}
	m.SendDuration.Observe(seconds)
}
