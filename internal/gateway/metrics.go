// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	unauthorized prometheus.Counter
	duration     *prometheus.HistogramVec
}

// NewMetrics registers the gateway collectors on reg. A nil reg returns nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiongate_gateway_requests_total",
			Help: "Outbound requests by method and response code (\"error\" for transport failures)",
		}, []string{"method", "code"}),
		unauthorized: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessiongate_gateway_unauthorized_total",
			Help: "Responses that triggered the unauthorized signal",
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessiongate_gateway_request_duration_seconds",
			Help:    "Outbound request latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
	}
}

func (m *Metrics) observe(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, code).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) incUnauthorized() {
	if m == nil {
		return
	}
	m.unauthorized.Inc()
}

// Snapshot is a point-in-time read of the gateway counters.
type Snapshot struct {
	Requests     int            `json:"requests"`
	ByCode       map[string]int `json:"by_code,omitempty"`
	Unauthorized int            `json:"unauthorized"`
}

// ReadSnapshot gathers the gateway counters from g, typically the registry
// passed to WithRegisterer.
func ReadSnapshot(g prometheus.Gatherer) (*Snapshot, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{ByCode: make(map[string]int)}
	for _, mf := range families {
		switch mf.GetName() {
		case "sessiongate_gateway_requests_total":
			for _, m := range mf.GetMetric() {
				n := int(m.GetCounter().GetValue())
				snap.Requests += n
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "code" {
						snap.ByCode[lp.GetValue()] += n
					}
				}
			}
		case "sessiongate_gateway_unauthorized_total":
			for _, m := range mf.GetMetric() {
				snap.Unauthorized += int(m.GetCounter().GetValue())
			}
		}
	}
	return snap, nil
}
