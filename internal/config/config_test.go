package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ListenAddress != "0.0.0.0" {
		t.Errorf("ListenAddress = %q, want 0.0.0.0", cfg.ListenAddress)
	}
	if cfg.ListenPort != 3000 {
		t.Errorf("ListenPort = %d, want 3000", cfg.ListenPort)
	}
	if cfg.RouterAPIKind != "bbox" {
		t.Errorf("RouterAPIKind = %q, want bbox", cfg.RouterAPIKind)
	}
	if cfg.DeviceScanDelay != 60*time.Second {
		t.Errorf("DeviceScanDelay = %s, want 60s", cfg.DeviceScanDelay)
	}
	if !cfg.LogJSON {
		t.Error("LogJSON = false, want true")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_LISTEN_ADDRESS", "127.0.0.1")
	t.Setenv("API_LISTEN_PORT", "8080")
	t.Setenv("API_ROUTER_API_BASE_URL", "http://192.168.1.1")
	t.Setenv("API_SCANNING_DEVICE_SCAN_DELAY", "30")
	t.Setenv("API_LOG_JSON", "false")

	cfg := Load()
	if cfg.ListenAddress != "127.0.0.1" {
		t.Errorf("ListenAddress = %q, want 127.0.0.1", cfg.ListenAddress)
	}
	if cfg.ListenPort != 8080 {
		t.Errorf("ListenPort = %d, want 8080", cfg.ListenPort)
	}
	if cfg.RouterAPIBaseURL != "http://192.168.1.1" {
		t.Errorf("RouterAPIBaseURL = %q, want http://192.168.1.1", cfg.RouterAPIBaseURL)
	}
	if cfg.DeviceScanDelay != 30*time.Second {
		t.Errorf("DeviceScanDelay = %s, want 30s", cfg.DeviceScanDelay)
	}
	if cfg.LogJSON {
		t.Error("LogJSON = true, want false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(_ *Config) {}, false},
		{"zero listen port", func(c *Config) { c.ListenPort = 0 }, true},
		{"zero scan delay", func(c *Config) { c.DeviceScanDelay = 0 }, true},
		{"unsupported router kind", func(c *Config) { c.RouterAPIKind = "unifi" }, true},
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }, true},
		{"valid cron override", func(c *Config) { c.DeviceScanCronExpr = "0 */6 * * *" }, false},
		{"malformed cron override", func(c *Config) { c.DeviceScanCronExpr = "not a cron expression" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestValuesRedactsPassword(t *testing.T) {
	cfg := NewTestConfig()
	cfg.RouterAPIPassword = "s3cr3t"

	values := cfg.Values()
	if values["API_ROUTER_API_PASSWORD"] != "(set)" {
		t.Errorf("API_ROUTER_API_PASSWORD = %q, want (set)", values["API_ROUTER_API_PASSWORD"])
	}
}

func TestEnvStr(t *testing.T) {
	const key = "CP_TEST_ENV_STR"
	t.Setenv(key, "custom")

	if got := envStr(key, "default"); got != "custom" {
		t.Errorf("got %q, want %q", got, "custom")
	}
	if got := envStr("CP_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("got %q, want %q", got, "fallback")
	}
}

func TestEnvInt(t *testing.T) {
	const key = "CP_TEST_ENV_INT"

	t.Setenv(key, "42")
	if got := envInt(key, 0); got != 42 {
		t.Errorf("got %d, want 42", got)
	}

	t.Setenv(key, "notanumber")
	if got := envInt(key, 99); got != 99 {
		t.Errorf("got %d, want 99 (default on parse failure)", got)
	}
}

func TestEnvBool(t *testing.T) {
	const key = "CP_TEST_ENV_BOOL"

	t.Setenv(key, "true")
	if got := envBool(key, false); !got {
		t.Errorf("got false, want true")
	}

	t.Setenv(key, "invalid")
	if got := envBool(key, true); !got {
		t.Errorf("got false, want true (default on parse failure)")
	}
}

func TestEnvSeconds(t *testing.T) {
	const key = "CP_TEST_ENV_SECONDS"

	t.Setenv(key, "30")
	if got := envSeconds(key, time.Hour); got != 30*time.Second {
		t.Errorf("got %s, want 30s", got)
	}

	t.Setenv(key, "notanumber")
	if got := envSeconds(key, time.Hour); got != time.Hour {
		t.Errorf("got %s, want 1h (default on parse failure)", got)
	}
}
