// Package driver discovers, spawns, health-checks, and tears down the external
// browser process that backs screenshot capture.
//
// A Process is owned by the Supervisor that created it. Release terminates the
// whole process group (SIGTERM, a bounded grace period, then SIGKILL), joins
// the stderr drain goroutine, and removes the private profile directory. It is
// idempotent and safe to defer on every exit path.
package driver
