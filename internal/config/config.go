// Package config loads Aegis's top-level YAML configuration file and
// applies environment-variable overrides, mirroring the reference
// stack's own config.Load: read-with-defaults, then env override, then
// validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob spec.md §6 lists: "ports, payload-max, stream
// buffer size/timeout, session TTL (default 900s), poll interval
// (default 100ms), fail-mode (open/closed), ML model path, logging
// level, log-rotation size."
type Config struct {
	// DataDir is the platform data directory (CA material, the SQLite
	// state store, settings overlay). Defaults to the OS-specific path
	// from spec.md §6; a CLI flag or env var may override it.
	DataDir string `yaml:"data_dir"`

	Proxy     ProxyConfig     `yaml:"proxy"`
	API       APIConfig       `yaml:"api"`
	Session   SessionConfig   `yaml:"session"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Redis     RedisConfig     `yaml:"redis"`

	// FailMode names the Browser Interceptor's behavior when the
	// Decision API is unreachable: "open" (allow through, log-only) or
	// "closed" (block until the API answers). It is validated and logged
	// at startup; the served interceptor script takes its fail mode from
	// the page's aegis-config element and does not receive this value.
	FailMode string `yaml:"fail_mode"`

	// PollInterval is how often in-process caches (StateCache's
	// kill-switch/protection-state read) refresh from the State Store
	// (spec default 100ms).
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ProxyConfig holds the MITM Proxy's (C8) tunable knobs.
type ProxyConfig struct {
	ListenAddr          string        `yaml:"listen"`
	PayloadMaxBytes     int           `yaml:"payload_max_bytes"`
	StreamBufSize       int           `yaml:"stream_buffer_size"`
	StreamOverlapSize   int           `yaml:"stream_overlap_size"`
	StreamCheckInterval time.Duration `yaml:"stream_check_interval"`
	BodyReadTimeout     time.Duration `yaml:"body_read_timeout"`
	// CaptureMode is "all" or "flagged_only"; see internal/proxy.Config.
	CaptureMode string `yaml:"capture_mode"`
}

// APIConfig holds the Decision API's (C9) tunable knobs.
type APIConfig struct {
	ListenAddr      string        `yaml:"listen"`
	ExtensionOrigin string        `yaml:"extension_origin"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	StatsWindow     time.Duration `yaml:"stats_window"`
}

// SessionConfig holds the State Store's auth-session sliding-expiry TTL.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ClassifyConfig holds the Classifier Pipeline's (C4) tunable knobs.
type ClassifyConfig struct {
	// ModelPath names an optional Tier-2 ONNX prompt-guard model. This
	// build has no model loader: cmd/aegis only logs a non-empty path,
	// and Tier 2 is skipped whether or not it is set.
	ModelPath string `yaml:"model_path"`
}

// LoggingConfig holds slog setup plus log-rotation for the file sink.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // parsed but not read: cmd/aegis always logs JSON
	// File, if set, routes logs to a rotated file instead of stdout.
	File string `yaml:"file"`
	// RotateMaxSizeMB is the size a log file reaches before rotation
	// (spec.md §6's "log-rotation size"); 0 leaves lumberjack's own
	// default of 100 MB in effect.
	RotateMaxSizeMB  int `yaml:"rotate_max_size_mb"`
	RotateMaxBackups int `yaml:"rotate_max_backups"`
	RotateMaxAgeDays int `yaml:"rotate_max_age_days"`
}

// RedisConfig holds optional Redis connection settings. Addr == "" (the
// default) means Redis is not used: the login rate limiter runs purely
// in-process and the State Store's change notifications fall back to
// pure polling.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig holds OpenTelemetry tracer-provider configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Load reads and parses the configuration file at path, falling back to
// Defaults() if it doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path) // #nosec G304 -- config path from trusted CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			if err := cfg.validate(); err != nil {
				return nil, fmt.Errorf("validating config: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config with spec.md's documented default values.
func Defaults() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Proxy: ProxyConfig{
			ListenAddr:          "127.0.0.1:8766",
			PayloadMaxBytes:     256 * 1024,
			StreamBufSize:       500,
			StreamOverlapSize:   128,
			StreamCheckInterval: 2 * time.Second,
			BodyReadTimeout:     5 * time.Second,
			CaptureMode:         "all",
		},
		API: APIConfig{
			ListenAddr:      "127.0.0.1:8765",
			ExtensionOrigin: "null",
			RequestTimeout:  5 * time.Second,
			StatsWindow:     24 * time.Hour,
		},
		Session: SessionConfig{
			TTL: 900 * time.Second,
		},
		Classify: ClassifyConfig{
			ModelPath: "",
		},
		Logging: LoggingConfig{
			Level:            "info",
			Format:           "json",
			RotateMaxSizeMB:  50,
			RotateMaxBackups: 5,
			RotateMaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "aegis",
			Endpoint:    "localhost:4317",
			Insecure:    true,
		},
		Redis:        RedisConfig{Addr: ""},
		FailMode:     "open",
		PollInterval: 100 * time.Millisecond,
	}
}

// applyEnvOverrides applies environment variable overrides, mirroring
// the reference stack's ELIDA_* override set retargeted to AEGIS_*.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AEGIS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("AEGIS_PROXY_LISTEN"); v != "" {
		c.Proxy.ListenAddr = v
	}
	if v := os.Getenv("AEGIS_API_LISTEN"); v != "" {
		c.API.ListenAddr = v
	}
	if v := os.Getenv("AEGIS_EXTENSION_ORIGIN"); v != "" {
		c.API.ExtensionOrigin = v
	}
	if v := os.Getenv("AEGIS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AEGIS_FAIL_MODE"); v != "" {
		c.FailMode = v
	}
	if v := os.Getenv("AEGIS_CLASSIFY_MODEL_PATH"); v != "" {
		c.Classify.ModelPath = v
	}
	if v := os.Getenv("AEGIS_CAPTURE_MODE"); v != "" {
		c.Proxy.CaptureMode = v
	}
	if v := os.Getenv("AEGIS_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}

	if os.Getenv("AEGIS_TELEMETRY_ENABLED") == "true" {
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("AEGIS_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := os.Getenv("AEGIS_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	// Also support the standard OTEL env vars, as the reference stack does.
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = "otlp"
		c.Telemetry.Endpoint = v
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		c.Telemetry.Insecure = true
	}
}

// validate checks that the configuration is usable.
func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Proxy.ListenAddr == "" {
		return fmt.Errorf("proxy.listen is required")
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.FailMode != "open" && c.FailMode != "closed" {
		return fmt.Errorf("fail_mode must be \"open\" or \"closed\", got %q", c.FailMode)
	}
	if c.Proxy.CaptureMode != "all" && c.Proxy.CaptureMode != "flagged_only" {
		return fmt.Errorf("proxy.capture_mode must be \"all\" or \"flagged_only\", got %q", c.Proxy.CaptureMode)
	}
	return nil
}
