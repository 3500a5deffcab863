package main

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/oauthapp/internal/oauth"
)

type metrics struct {
	registry      *prometheus.Registry
	grants        *prometheus.CounterVec
	resources     *prometheus.CounterVec
	registrations *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthapp_token_grants_total",
			Help: "Password grant attempts by result.",
		}, []string{"result"}),
		resources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthapp_resource_requests_total",
			Help: "Protected resource lookups by result.",
		}, []string{"result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthapp_registrations_total",
			Help: "Client and user registrations by entity and result.",
		}, []string{"entity", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.grants,
		m.resources,
		m.registrations,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// outcome is the result label for err: "success", the error category of a
// request or domain failure, or "server_error".
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if e, ok := oauth.AsError(err); ok {
		return e.Category
	}
	var re *requestError
	if errors.As(err, &re) {
		return "invalid_request"
	}
	return "server_error"
}
