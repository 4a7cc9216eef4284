// Package main hosts the webshot command-line entrypoint.
//
// Architecture overview:
//   - Input: positional arguments are URLs, files of URLs (one per line), or "-" for stdin. Lines that are not
//     absolute http(s) URLs are dropped with a warning and listed in the run report; they never reach the pipeline.
//   - Driver: internal/driver discovers the browser (--driver, WEBSHOT_CHROME, CHROME_PATH, PATH, install
//     locations), launches it in its own process group, and guarantees SIGTERM then SIGKILL on every exit path.
//   - Capture: the cdp backend opens one DevTools tab per slot over chromedp; the oneshot backend runs
//     `--screenshot` per target. Both sit behind capture.Handle.
//   - Scheduling: internal/scheduler runs at most --concurrency captures at once. Each target is probed by the
//     colly-based liveness gate, then captured against a single --timeout budget; a hung tab is reset and the
//     slot moves on.
//   - Persistence & fanout: PNGs are written atomically to --out (or GCS). Progress events flow through a
//     non-blocking hub to zap, Prometheus, an optional Postgres outcome store, and optional Pub/Sub notifications.
//   - Configuration & plumbing: Viper merges defaults, an optional YAML file, .env, WEBSHOT_* variables, and
//     flags; zap provides structured logging; --metrics-addr serves /metrics, /healthz, /readyz, and /v1/run.
//
// Exit codes: 0 when the run completed (even with per-target failures), 1 on a fatal run error, 2 on usage or
// configuration errors, and 3 with --fail-on-error when any target did not succeed.
//
// Quick checklist:
//   - Run locally: go run ./cmd/webshot -c 4 -o shots https://example.com urls.txt
//   - From a pipe: cat urls.txt | go run ./cmd/webshot --report run.yaml -
//   - Without Chrome on PATH: set WEBSHOT_CHROME=/path/to/chrome or pass --driver.
package main
