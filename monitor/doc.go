// Package monitor provides the observability layer for the handoff pipeline:
// a performance tracker keeping rolling latency windows with percentile and
// SLA queries, and a metrics collector aggregating discrete pipeline events
// into snapshots for the alerting service.
//
// Both services sit on the hot path of conversation processing, so recording
// is lock-scoped per series in the tracker and fully non-blocking in the
// collector: under backpressure the collector drops events rather than stall
// a conversation.
package monitor
