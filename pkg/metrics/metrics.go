// Package metrics provides Prometheus instrumentation for the CoAP light client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultNamespace = "coap_light"

// Received datagram outcomes.
const (
	ResultMatched   = "matched"
	ResultUnmatched = "unmatched"
	ResultInvalid   = "invalid"
	ResultEmpty     = "empty"
)

// Reply registry events.
const (
	EventEvicted      = "evicted"
	EventExpired      = "expired"
	EventRejected     = "rejected"
	EventUnregistered = "unregistered"
)

// Metrics holds all Prometheus metrics of a connection.
type Metrics struct {
	reg prometheus.Gatherer

	// Socket metrics
	OpenAttempts     *prometheus.CounterVec
	Reopens          prometheus.Counter
	SocketConditions *prometheus.CounterVec

	// Message metrics
	MessagesSent     *prometheus.CounterVec
	SendErrors       *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec

	// Reply metrics
	PendingReplies prometheus.Gauge
	RegistryEvents *prometheus.CounterVec
	ReplyLatency   prometheus.Histogram
}

// New creates metrics registered to reg. A nil reg gets a private registry.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		OpenAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "socket_open_attempts_total",
				Help:      "Total number of socket open attempts",
			},
			[]string{"status"},
		),
		Reopens: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "socket_reopens_total",
				Help:      "Total number of socket reopens after an invalid descriptor",
			},
		),
		SocketConditions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "socket_conditions_total",
				Help:      "Total number of abnormal socket conditions seen by the receiver",
			},
			[]string{"condition"},
		),
		MessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of CoAP requests sent",
			},
			[]string{"code", "tracked"},
		),
		SendErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_errors_total",
				Help:      "Total number of failed CoAP sends",
			},
			[]string{"reason"},
		),
		MessagesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of datagrams received",
			},
			[]string{"result"},
		),
		PendingReplies: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_replies",
				Help:      "Number of requests waiting for a reply",
			},
		),
		RegistryEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reply_registry_events_total",
				Help:      "Total number of reply registry events",
			},
			[]string{"event"},
		),
		ReplyLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reply_latency_seconds",
				Help:      "Time between sending a tracked request and its reply",
				Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
		),
	}
}

// Gatherer returns the registry the metrics are registered to.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.reg
}

func (m *Metrics) ObserveOpen(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OpenAttempts.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSent(code string, tracked bool) {
	t := "false"
	if tracked {
		t = "true"
	}
	m.MessagesSent.WithLabelValues(code, t).Inc()
}

// ObserveReply tracks a matched reply of a request sent at created.
func (m *Metrics) ObserveReply(created time.Time) {
	m.MessagesReceived.WithLabelValues(ResultMatched).Inc()
	m.ReplyLatency.Observe(time.Since(created).Seconds())
}
