// internal/config/validate_test.go
package config

import (
	"strings"
	"testing"
	"time"
)

// helper to build a valid config quickly
func valid() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ---- tests ----

func TestValidate_DefaultsAreValid(t *testing.T) {
	if err := Validate(valid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"baud below floor", func(c *Config) { c.Baud = 4800 }, "baud"},
		{"backoff max below initial", func(c *Config) { c.BackoffMaxMs = 100; c.BackoffInitialMs = 500 }, "backoff_max_ms"},
		{"cols too small", func(c *Config) { c.Cols = 4 }, "cols"},
		{"rows too large", func(c *Config) { c.Rows = 5 }, "rows"},
		{"bad parity", func(c *Config) { c.Parity = "mark" }, "parity"},
		{"unknown icon", func(c *Config) { c.Icons = map[string][]int{"rocket": make([]int, 8)} }, "unknown icon"},
		{"short icon", func(c *Config) { c.Icons = map[string][]int{"heart": {1, 2, 3}} }, "rows"},
		{"wide icon row", func(c *Config) { c.Icons = map[string][]int{"heart": {0x20, 0, 0, 0, 0, 0, 0, 0}} }, "5 bits"},
		{"bad driver", func(c *Config) { c.Display.Driver = "hdmi" }, "display.driver"},
		{"allow with args", func(c *Config) { c.Tunnel.Allow = []string{"rm -rf"} }, "tunnel.allow"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"mirror on link device", func(c *Config) {
			c.StatusMirror.Device = c.Device
			c.StatusMirror.Baud = 9600
			c.StatusMirror.UnitID = 1
			c.StatusMirror.TimeoutMs = 100
		}, "status_mirror.device"},
		{"non-ascii device name", func(c *Config) { c.StatusMirror.DeviceName = "pänel" }, "ASCII"},
	}

	for _, tc := range cases {
		cfg := valid()
		tc.mutate(cfg)
		err := Validate(cfg)
		if err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestValidate_MirrorOptIn(t *testing.T) {
	cfg := valid()
	cfg.StatusMirror.Device = "/dev/ttyUSB1"
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StatusMirror.UnitID != 1 || cfg.StatusMirror.Baud != DefaultMirrorBaud {
		t.Fatalf("expected mirror defaults, got %+v", cfg.StatusMirror)
	}
	ml := cfg.MirrorLink()
	if ml.Parity != "E" || ml.StopBits != 1 || ml.Timeout != time.Duration(DefaultMirrorTimeoutMs)*time.Millisecond {
		t.Fatalf("expected 8E1 mirror line, got %+v", ml)
	}
}

func TestValidate_MirrorLineSetup(t *testing.T) {
	cfg := valid()
	cfg.StatusMirror.Device = "/dev/ttyUSB1"
	cfg.StatusMirror.Parity = "None"
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Normalize(cfg)
	if ml := cfg.MirrorLink(); ml.Parity != "N" || ml.StopBits != 2 {
		t.Fatalf("expected 8N2 mirror line, got %+v", ml)
	}

	cfg.StatusMirror.Parity = "mark"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "status_mirror.parity") {
		t.Fatalf("expected parity error, got %v", err)
	}
	cfg.StatusMirror.Parity = "odd"
	cfg.StatusMirror.StopBits = 3
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "status_mirror.stop_bits") {
		t.Fatalf("expected stop bits error, got %v", err)
	}
}

func TestNormalize_TruncatesDeviceName(t *testing.T) {
	cfg := valid()
	cfg.StatusMirror.DeviceName = "ABCDEFGHIJKLMNOPQRST"
	Normalize(cfg)

	if cfg.StatusMirror.DeviceName != "ABCDEFGHIJKLMNOP" {
		t.Fatalf("expected 16 chars, got %q", cfg.StatusMirror.DeviceName)
	}
}

func TestNormalize_DedupesAllowList(t *testing.T) {
	cfg := valid()
	cfg.Tunnel.Allow = []string{"uptime", "df", "uptime"}
	Normalize(cfg)

	if len(cfg.Tunnel.Allow) != 2 || cfg.Tunnel.Allow[0] != "uptime" || cfg.Tunnel.Allow[1] != "df" {
		t.Fatalf("expected [uptime df], got %v", cfg.Tunnel.Allow)
	}
}
