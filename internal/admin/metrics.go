// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package admin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the admin server's Prometheus metrics.
type Metrics struct {
	RouteSetupFailures *prometheus.CounterVec
	RoutesContributed  prometheus.Gauge
	RequestsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers the admin metrics. plugins reports the
// number of registered plugins at scrape time.
func NewMetrics(reg prometheus.Registerer, plugins func() int) *Metrics {
	m := &Metrics{
		RouteSetupFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ariesd_admin_route_setup_failures_total",
				Help: "Total number of failed admin route-setup passes by plugin",
			},
			[]string{"plugin"},
		),
		RoutesContributed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ariesd_admin_routes_contributed",
				Help: "Number of admin routes contributed by plugins in the last route-setup pass",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ariesd_admin_plugin_requests_total",
				Help: "Total number of admin requests routed to plugins by status class",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(m.RouteSetupFailures)
	reg.MustRegister(m.RoutesContributed)
	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ariesd_plugins_registered",
			Help: "Number of plugins registered in the agent context",
		},
		func() float64 { return float64(plugins()) },
	))

	return m
}
