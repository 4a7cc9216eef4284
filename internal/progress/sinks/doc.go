// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors, repository-backed persistence, and completion
// notifications. Each sink satisfies progress.Sink and tolerates repeated
// Consume calls.
package sinks
