// Package metrics exposes the handoff pipeline's Prometheus metrics:
// webhook HTTP traffic, handoff outcomes and latency, guard rejections,
// context cache effectiveness, agent invocations, and fired alerts.
//
// All metrics register through a caller-supplied Registerer so tests can use
// isolated registries; a nil Registerer falls back to the default one.
//
// This package is internal and should not be imported by external projects.
package metrics
