// Package observability provides Prometheus metrics for the ticketing service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the service's custom Prometheus metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TicketsTotal    *prometheus.CounterVec
	OTPTotal        *prometheus.CounterVec
}

// NewRegistry returns a registry carrying the standard Go and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewMetrics creates and registers the custom metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketeer_http_requests_total",
				Help: "Total number of HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ticketeer_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		TicketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketeer_tickets_total",
				Help: "Total number of ticket lifecycle operations by action",
			},
			[]string{"action"},
		),
		OTPTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketeer_otp_total",
				Help: "Total number of password reset code operations by stage and result",
			},
			[]string{"stage", "result"},
		),
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.TicketsTotal)
	reg.MustRegister(m.OTPTotal)

	return m
}

// RegisterClientGauge exposes the live websocket client count.
func RegisterClientGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ticketeer_websocket_clients",
			Help: "Number of connected websocket clients",
		},
		func() float64 { return float64(count()) },
	))
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// TicketAction counts a ticket operation: issued, revoked, verified or redeemed.
func (m *Metrics) TicketAction(action string) {
	if m == nil {
		return
	}
	m.TicketsTotal.WithLabelValues(action).Inc()
}

// OTPResult counts a reset flow step ("request", "verify", "reset") with
// its outcome code.
func (m *Metrics) OTPResult(stage, result string) {
	if m == nil {
		return
	}
	m.OTPTotal.WithLabelValues(stage, result).Inc()
}
