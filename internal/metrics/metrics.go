package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "billing"

// Collector holds the service's Prometheus metrics on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	CheckoutTotal       *prometheus.CounterVec
	WebhookCallbacks    *prometheus.CounterVec
	GatewayAttempts     *prometheus.CounterVec
	CardsTotal          *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a Collector with its own registry, including Go runtime and
// process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		CheckoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Checkout attempts by result",
		}, []string{"result"}),
		WebhookCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_callbacks_total",
			Help:      "Gateway callbacks by routing outcome",
		}, []string{"outcome"}),
		GatewayAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_attempts_total",
			Help:      "Gateway order attempts by RSA padding and result",
		}, []string{"padding", "result"}),
		CardsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_total",
			Help:      "Saved card lifecycle transitions",
		}, []string{"action"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.CheckoutTotal,
		c.WebhookCallbacks,
		c.GatewayAttempts,
		c.CardsTotal,
		c.HTTPRequestsTotal,
		c.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordCheckout(result string) {
	if c != nil {
		c.CheckoutTotal.WithLabelValues(result).Inc()
	}
}

func (c *Collector) RecordWebhook(outcome string) {
	if c != nil {
		c.WebhookCallbacks.WithLabelValues(outcome).Inc()
	}
}

func (c *Collector) RecordGatewayAttempt(padding, result string) {
	if c != nil {
		c.GatewayAttempts.WithLabelValues(padding, result).Inc()
	}
}

func (c *Collector) RecordCard(action string) {
	if c != nil {
		c.CardsTotal.WithLabelValues(action).Inc()
	}
}

// RecordHTTPRequest records one served request. route should be the
// matched pattern, not the raw path.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
