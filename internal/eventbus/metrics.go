// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package eventbus

import "github.com/prometheus/client_golang/prometheus"

// EventEmissions counts emitted events by topic.
var EventEmissions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quire_event_emissions_total",
		Help: "Total number of host events emitted",
	},
	[]string{"topic"},
)

// HandlerFailures counts failed or panicking event handlers by topic.
var HandlerFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quire_event_handler_failures_total",
		Help: "Total number of event handler invocations that failed",
	},
	[]string{"topic"},
)

// RegisterMetrics registers event bus metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EventEmissions)
	reg.MustRegister(HandlerFailures)
}
