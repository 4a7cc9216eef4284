// Package metrics exposes Prometheus collectors for the capture pipeline's
// infrastructure: driver lifecycle, liveness probes, host pacing, and the
// status server's own HTTP traffic.
package metrics

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/publicsuffix"
)

// Metrics owns the infrastructure collectors. It satisfies driver.Observer
// and liveness.Observer. A nil *Metrics ignores every observation.
type Metrics struct {
	driverStarts   *prometheus.CounterVec
	driverReleases *prometheus.CounterVec
	driversLive    *prometheus.GaugeVec

	probes        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	rateLimitDelay *prometheus.HistogramVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		driverStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webshot_driver_starts_total",
			Help: "Browser processes started, labeled by mode.",
		}, []string{"mode"}),
		driverReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webshot_driver_releases_total",
			Help: "Browser processes released, labeled by mode and whether SIGKILL was needed.",
		}, []string{"mode", "forced"}),
		driversLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "webshot_drivers_live",
			Help: "Browser processes currently owned by the supervisor.",
		}, []string{"mode"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webshot_probes_total",
			Help: "Liveness probes, labeled by verdict.",
		}, []string{"verdict"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webshot_probe_duration_seconds",
			Help:    "Liveness probe latency, labeled by verdict.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"verdict"}),
		rateLimitDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webshot_rate_limit_delay_seconds",
			Help:    "Time spent waiting on per-host pacing, labeled by site.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Status server requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Status server latency, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),
	}
	for _, c := range []prometheus.Collector{
		m.driverStarts, m.driverReleases, m.driversLive,
		m.probes, m.probeDuration,
		m.rateLimitDelay,
		m.httpRequests, m.httpRequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}
	return m, nil
}

// Handler returns an http.Handler serving the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// DriverStarted implements driver.Observer.
func (m *Metrics) DriverStarted(mode string) {
	if m == nil {
		return
	}
	m.driverStarts.WithLabelValues(mode).Inc()
	m.driversLive.WithLabelValues(mode).Inc()
}

// DriverReleased implements driver.Observer.
func (m *Metrics) DriverReleased(mode string, forced bool) {
	if m == nil {
		return
	}
	m.driverReleases.WithLabelValues(mode, strconv.FormatBool(forced)).Inc()
	m.driversLive.WithLabelValues(mode).Dec()
}

// ProbeObserved implements liveness.Observer.
func (m *Metrics) ProbeObserved(verdict string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(verdict).Inc()
	m.probeDuration.WithLabelValues(verdict).Observe(elapsed.Seconds())
}

// ObserveRateLimitDelay records time spent waiting for a host's pacing token.
func (m *Metrics) ObserveRateLimitDelay(site string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitDelay.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveHTTPRequest records one status server request.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// SanitizeSite reduces a URL or host to its registrable domain (eTLD+1) so it
// can be used as a bounded-cardinality label. IP addresses and single-label
// hosts are returned as-is; anything unparsable becomes "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "unknown"
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}
