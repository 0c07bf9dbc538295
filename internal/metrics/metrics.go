// Package metrics exposes prometheus counters for callbacks and provider calls
package metrics

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alexbotov/spinclient/pkg/spinclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spinclient"

// Metrics owns a private registry so several instances can coexist in tests
type Metrics struct {
	registry      *prometheus.Registry
	callbacks     *prometheus.CounterVec
	providerCalls *prometheus.HistogramVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Provider callbacks answered, by action and envelope error code.",
		}, []string{"action", "code"}),
		providerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_seconds",
			Help:      "Latency of remote provider API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "outcome"}),
	}

	m.registry.MustRegister(
		m.callbacks,
		m.providerCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CallbackHandled counts one answered callback
func (m *Metrics) CallbackHandled(action string, code int) {
	m.callbacks.WithLabelValues(action, strconv.Itoa(code)).Inc()
}

// Transport wraps next and times every call by provider method
func (m *Metrics) Transport(next spinclient.Transport) spinclient.Transport {
	return &timedTransport{next: next, hist: m.providerCalls}
}

type timedTransport struct {
	next spinclient.Transport
	hist *prometheus.HistogramVec
}

func (t *timedTransport) PostForm(ctx context.Context, endpoint string, form url.Values) (string, error) {
	start := time.Now()
	body, err := t.next.PostForm(ctx, endpoint, form)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "transport_error"
	case spinclient.HasError(body):
		outcome = "api_error"
	}
	t.hist.WithLabelValues(form.Get("method"), outcome).Observe(time.Since(start).Seconds())
	return body, err
}
