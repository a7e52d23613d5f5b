// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension

import "github.com/prometheus/client_golang/prometheus"

// Activations counts activation attempts by result (ok, error).
var Activations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quire_extension_activations_total",
		Help: "Total number of extension activation attempts",
	},
	[]string{"result"},
)

// ActivationDuration observes how long activations take.
var ActivationDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "quire_extension_activation_duration_seconds",
		Help:    "Time spent loading and activating an extension",
		Buckets: prometheus.DefBuckets,
	},
)

// CommandExecutions counts command executions by status (ok, error,
// not_found).
var CommandExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quire_command_executions_total",
		Help: "Total number of command executions",
	},
	[]string{"status"},
)

// RegistryEntries reports the current size of each UI registry.
var RegistryEntries = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "quire_registry_entries",
		Help: "Number of entries in each UI registry",
	},
	[]string{"registry"},
)

// RegisterMetrics registers extension host metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Activations)
	reg.MustRegister(ActivationDuration)
	reg.MustRegister(CommandExecutions)
	reg.MustRegister(RegistryEntries)
}
