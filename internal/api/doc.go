// Package api hosts the status server that runs alongside a capture run.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run and /v1/run/sites for live run progress fed by a Tracker.
package api
