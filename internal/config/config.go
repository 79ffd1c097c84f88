// Package config loads the control plane's configuration from environment
// variables under the hierarchical "API_<SECTION>_<KEY>" namespace (spec.md
// §6). Config is constructed once at startup and passed by pointer through
// constructors; there is no global mutable configuration value, per spec.md
// §9's guidance on the original's static CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/helios-home/control-plane/internal/scheduler"
)

// Config holds all control-plane configuration.
type Config struct {
	// API / listener
	ListenAddress string
	ListenPort    int
	BaseURL       string

	// Router API (the consumer-grade router the SyncDevices job polls)
	RouterAPIKind     string
	RouterAPIBaseURL  string
	RouterAPIPassword string

	// Persistence
	DatabaseURL string

	// Scanning cadence. DeviceScanCronExpr, when set, overrides the plain
	// DeviceScanDelay interval with a five-field cron schedule (spec.md
	// §6.3's per-job cadence override).
	DeviceScanDelay    time.Duration
	DeviceScanCronExpr string

	// MetricsTextfilePath, when set, writes the control plane's own
	// Prometheus gauges to this path after every device scan, for
	// node_exporter's textfile collector.
	MetricsTextfilePath string

	// Per-kind agent binary download locations, substituted into the
	// generated install script (spec.md §4.9).
	HelloWorldDownloadBaseURL  string
	HelloWorld2DownloadBaseURL string

	// Ambient
	LogJSON        bool
	MetricsEnabled bool
}

// NewTestConfig returns a Config with sensible defaults for tests. Use
// struct literals to override specific fields.
func NewTestConfig() *Config {
	return &Config{
		ListenAddress:   "0.0.0.0",
		ListenPort:      3000,
		BaseURL:         "http://localhost:3000",
		RouterAPIKind:   "bbox",
		DatabaseURL:     "file::memory:",
		DeviceScanDelay: 60 * time.Second,
		LogJSON:         false,
	}
}

// Load reads all configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		ListenAddress: envStr("API_LISTEN_ADDRESS", "0.0.0.0"),
		ListenPort:    envInt("API_LISTEN_PORT", 3000),
		BaseURL:       envStr("API_BASE_URL", ""),

		RouterAPIKind:     envStr("API_ROUTER_API_KIND", "bbox"),
		RouterAPIBaseURL:  envStr("API_ROUTER_API_BASE_URL", ""),
		RouterAPIPassword: envStr("API_ROUTER_API_PASSWORD", ""),

		DatabaseURL: envStr("API_DATABASE_URL", ""),

		DeviceScanDelay:    envSeconds("API_SCANNING_DEVICE_SCAN_DELAY", 60*time.Second),
		DeviceScanCronExpr: envStr("API_SCANNING_DEVICE_SCAN_CRON_EXPR", ""),

		MetricsTextfilePath: envStr("API_METRICS_TEXTFILE_PATH", ""),

		HelloWorldDownloadBaseURL:  envStr("API_AGENT_HELLO_WORLD_DOWNLOAD_BASE_URL", ""),
		HelloWorld2DownloadBaseURL: envStr("API_AGENT_HELLO_WORLD2_DOWNLOAD_BASE_URL", ""),

		LogJSON:        envBool("API_LOG_JSON", true),
		MetricsEnabled: envBool("API_METRICS_ENABLED", false),
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("API_LISTEN_PORT must be in [1, 65535], got %d", c.ListenPort))
	}
	if c.DeviceScanDelay <= 0 {
		errs = append(errs, fmt.Errorf("API_SCANNING_DEVICE_SCAN_DELAY must be > 0, got %s", c.DeviceScanDelay))
	}
	if c.DeviceScanCronExpr != "" {
		if err := scheduler.ValidateCronExpression(c.DeviceScanCronExpr); err != nil {
			errs = append(errs, fmt.Errorf("API_SCANNING_DEVICE_SCAN_CRON_EXPR: %w", err))
		}
	}
	switch c.RouterAPIKind {
	case "bbox":
		// valid
	default:
		errs = append(errs, fmt.Errorf("API_ROUTER_API_KIND must be bbox, got %q", c.RouterAPIKind))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("API_DATABASE_URL is required"))
	}
	return errors.Join(errs...)
}

// Values returns all configuration as a string map for display, redacting
// the router password.
func (c *Config) Values() map[string]string {
	return map[string]string{
		"API_LISTEN_ADDRESS":                     c.ListenAddress,
		"API_LISTEN_PORT":                         strconv.Itoa(c.ListenPort),
		"API_BASE_URL":                            c.BaseURL,
		"API_ROUTER_API_KIND":                     c.RouterAPIKind,
		"API_ROUTER_API_BASE_URL":                 c.RouterAPIBaseURL,
		"API_ROUTER_API_PASSWORD":                 redactSecret(c.RouterAPIPassword),
		"API_DATABASE_URL":                         c.DatabaseURL,
		"API_SCANNING_DEVICE_SCAN_DELAY":           c.DeviceScanDelay.String(),
		"API_SCANNING_DEVICE_SCAN_CRON_EXPR":       c.DeviceScanCronExpr,
		"API_AGENT_HELLO_WORLD_DOWNLOAD_BASE_URL":  c.HelloWorldDownloadBaseURL,
		"API_AGENT_HELLO_WORLD2_DOWNLOAD_BASE_URL": c.HelloWorld2DownloadBaseURL,
		"API_LOG_JSON":                             fmt.Sprintf("%t", c.LogJSON),
		"API_METRICS_ENABLED":                      fmt.Sprintf("%t", c.MetricsEnabled),
		"API_METRICS_TEXTFILE_PATH":                c.MetricsTextfilePath,
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envSeconds parses key as a count of seconds (spec.md §6: "seconds,
// default 60"), not a Go duration string, matching the original's bare
// integer env var.
func envSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func redactSecret(s string) string {
	if s != "" {
		return "(set)"
	}
	return ""
}
