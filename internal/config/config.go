// Package config loads and validates webshot configuration via Viper. Values
// come from defaults, an optional YAML file, an optional .env file, WEBSHOT_*
// environment variables, and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment override, e.g.
// WEBSHOT_CAPTURE_CONCURRENCY=8.
const EnvPrefix = "WEBSHOT"

// Capture backends.
const (
	BackendCDP     = "cdp"
	BackendOneShot = "oneshot"
)

// Result sinks.
const (
	SinkLocal = "local"
	SinkGCS   = "gcs"
)

// Config captures every knob read by the pipeline.
type Config struct {
	Capture  CaptureConfig  `mapstructure:"capture"`
	Liveness LivenessConfig `mapstructure:"liveness"`
	Driver   DriverConfig   `mapstructure:"driver"`
	Output   OutputConfig   `mapstructure:"output"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// CaptureConfig governs the scheduler and the capture handles.
type CaptureConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Width       int           `mapstructure:"width"`
	Height      int           `mapstructure:"height"`
	FullPage    bool          `mapstructure:"full_page"`
	Quality     int           `mapstructure:"quality"`
	Backend     string        `mapstructure:"backend"`
	HostQPS     float64       `mapstructure:"host_qps"`
	Partition   string        `mapstructure:"partition"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// LivenessConfig configures the pre-capture reachability probe.
type LivenessConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Budget    time.Duration `mapstructure:"budget"`
	UserAgent string        `mapstructure:"user_agent"`
}

// DriverConfig configures browser discovery and process supervision.
type DriverConfig struct {
	Path           string        `mapstructure:"path"`
	Port           int           `mapstructure:"port"`
	Headless       bool          `mapstructure:"headless"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	KillGrace      time.Duration `mapstructure:"kill_grace"`
	ExtraFlags     []string      `mapstructure:"extra_flags"`
}

// OutputConfig selects where screenshots and the run report go.
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	Sink      string `mapstructure:"sink"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
	Report    string `mapstructure:"report"`
}

// MetricsConfig enables the status server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls the optional Postgres outcome store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for outcome notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"concurrency":   "capture.concurrency",
	"timeout":       "capture.timeout",
	"width":         "capture.width",
	"height":        "capture.height",
	"full-page":     "capture.full_page",
	"backend":       "capture.backend",
	"host-qps":      "capture.host_qps",
	"partition":     "capture.partition",
	"user-agent":    "capture.user_agent",
	"probe":         "liveness.enabled",
	"probe-budget":  "liveness.budget",
	"driver":        "driver.path",
	"port":          "driver.port",
	"headless":      "driver.headless",
	"out":           "output.dir",
	"sink":          "output.sink",
	"bucket":        "output.gcs_bucket",
	"report":        "output.report",
	"metrics-addr":  "metrics.addr",
	"log-level":     "logging.level",
	"log-dev":       "logging.development",
	"db-dsn":        "db.dsn",
	"pubsub-topic":  "pubsub.topic",
}

// RegisterFlags adds the config flags to fs. Flags left unset never override
// file or environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.IntP("concurrency", "c", 4, "parallel capture slots")
	fs.DurationP("timeout", "t", 30*time.Second, "per-target navigate+capture budget")
	fs.Int("width", 1920, "viewport width")
	fs.Int("height", 1080, "viewport height")
	fs.Bool("full-page", true, "capture the full scrollable page")
	fs.String("backend", BackendCDP, "capture backend: cdp or oneshot")
	fs.Float64("host-qps", 0, "max captures per second per host (0 disables)")
	fs.String("partition", "pull", "work partitioning: pull or round_robin")
	fs.String("user-agent", "", "browser user agent override")
	fs.Bool("probe", true, "HEAD-probe targets before capturing")
	fs.Duration("probe-budget", 5*time.Second, "liveness probe budget")
	fs.String("driver", "", "browser executable path or name")
	fs.Int("port", 9222, "DevTools port for the cdp backend")
	fs.Bool("headless", true, "run the browser headless")
	fs.StringP("out", "o", "_ss", "output directory for the local sink")
	fs.String("sink", SinkLocal, "result sink: local or gcs")
	fs.String("bucket", "", "GCS bucket for the gcs sink")
	fs.String("report", "", "write a run report (.json or .yaml)")
	fs.String("metrics-addr", "", "serve /metrics, /healthz and /readyz on this address")
	fs.String("log-level", "info", "log level")
	fs.Bool("log-dev", true, "human-friendly development logging")
	fs.String("db-dsn", "", "Postgres DSN for the outcome store")
	fs.String("pubsub-topic", "", "Pub/Sub topic for outcome notifications")
}

// Load builds a Config. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Driver.ExtraFlags = splitFlags(cfg.Driver.ExtraFlags)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// splitFlags accepts both a YAML list and a single space-separated env value.
func splitFlags(in []string) []string {
	var out []string
	for _, item := range in {
		out = append(out, strings.Fields(item)...)
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("capture.concurrency", 4)
	v.SetDefault("capture.timeout", "30s")
	v.SetDefault("capture.width", 1920)
	v.SetDefault("capture.height", 1080)
	v.SetDefault("capture.full_page", true)
	v.SetDefault("capture.quality", 100)
	v.SetDefault("capture.backend", BackendCDP)
	v.SetDefault("capture.host_qps", 0)
	v.SetDefault("capture.partition", "pull")
	v.SetDefault("capture.user_agent", "")
	v.SetDefault("liveness.enabled", true)
	v.SetDefault("liveness.budget", "5s")
	v.SetDefault("liveness.user_agent", "webshot/1.0")
	v.SetDefault("driver.path", "")
	v.SetDefault("driver.port", 9222)
	v.SetDefault("driver.headless", true)
	v.SetDefault("driver.startup_timeout", "15s")
	v.SetDefault("driver.kill_grace", "3s")
	v.SetDefault("driver.extra_flags", []string{})
	v.SetDefault("output.dir", "_ss")
	v.SetDefault("output.sink", SinkLocal)
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.gcs_prefix", "shots")
	v.SetDefault("output.report", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "capture_outcomes")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Capture.Concurrency <= 0 {
		return fmt.Errorf("capture.concurrency must be > 0")
	}
	if c.Capture.Timeout <= 0 {
		return fmt.Errorf("capture.timeout must be > 0")
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be > 0")
	}
	if c.Capture.Quality < 0 || c.Capture.Quality > 100 {
		return fmt.Errorf("capture.quality must be within 0..100")
	}
	switch c.Capture.Backend {
	case BackendCDP:
		if c.Driver.Port <= 0 || c.Driver.Port > 65535 {
			return fmt.Errorf("driver.port must be within 1..65535 for the cdp backend")
		}
	case BackendOneShot:
	default:
		return fmt.Errorf("capture.backend must be %q or %q, got %q", BackendCDP, BackendOneShot, c.Capture.Backend)
	}
	if c.Capture.HostQPS < 0 {
		return fmt.Errorf("capture.host_qps must be >= 0")
	}
	switch c.Capture.Partition {
	case "pull", "round_robin":
	default:
		return fmt.Errorf("capture.partition must be pull or round_robin, got %q", c.Capture.Partition)
	}
	if c.Liveness.Enabled && c.Liveness.Budget <= 0 {
		return fmt.Errorf("liveness.budget must be > 0 when liveness is enabled")
	}
	if c.Driver.StartupTimeout <= 0 {
		return fmt.Errorf("driver.startup_timeout must be > 0")
	}
	if c.Driver.KillGrace < 0 {
		return fmt.Errorf("driver.kill_grace must be >= 0")
	}
	switch c.Output.Sink {
	case SinkLocal:
		if strings.TrimSpace(c.Output.Dir) == "" {
			return fmt.Errorf("output.dir must be set for the local sink")
		}
	case SinkGCS:
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set for the gcs sink")
		}
	default:
		return fmt.Errorf("output.sink must be %q or %q, got %q", SinkLocal, SinkGCS, c.Output.Sink)
	}
	if c.Output.Report != "" {
		switch strings.ToLower(filepath.Ext(c.Output.Report)) {
		case ".json", ".yaml", ".yml":
		default:
			return fmt.Errorf("output.report must end in .json, .yaml or .yml")
		}
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if (c.PubSub.Topic == "") != (c.PubSub.ProjectID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}
