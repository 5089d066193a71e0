// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the stub service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	logins   *prometheus.CounterVec
	uploads  *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. tokens, when non-nil, is
// exported as a gauge of live tokens.
func NewMetrics(reg prometheus.Registerer, tokens *TokenStore) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	m := &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authstub_http_requests_total",
			Help: "HTTP requests served, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authstub_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authstub_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authstub_uploads_total",
			Help: "Student uploads by result.",
		}, []string{"result"}),
	}
	if tokens != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "authstub_active_tokens",
			Help: "Issued tokens that have not expired.",
		}, func() float64 { return float64(tokens.Len()) })
	}
	return m
}

func (m *Metrics) observe(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}
