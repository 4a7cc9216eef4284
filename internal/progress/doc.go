// Package progress carries capture lifecycle events from worker slots to
// pluggable sinks. Workers emit through a non-blocking Hub that batches events
// on a background goroutine; sinks turn batches into logs, Prometheus metrics,
// database rows, or Pub/Sub notifications.
package progress
