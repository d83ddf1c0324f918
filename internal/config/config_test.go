// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "seektune.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Capture.MaxDuration != DefaultMaxDuration {
		t.Errorf("MaxDuration = %v, want %v", cfg.Capture.MaxDuration, DefaultMaxDuration)
	}
	if cfg.Transport.PollInterval != 8*time.Second {
		t.Errorf("PollInterval = %v, want 8s", cfg.Transport.PollInterval)
	}
	if cfg.Matches.DisplayLimit != 5 {
		t.Errorf("DisplayLimit = %d, want 5", cfg.Matches.DisplayLimit)
	}
	if cfg.Capture.Source != "device" {
		t.Errorf("Source = %q, want device", cfg.Capture.Source)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("expected read error, got %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	path := writeTempConfig(t, "capture: [unclosed\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeTempConfig(t, `
server_url: https://seek.example.com
capture:
  source: mic
  input_device: 2
  max_duration: 5s
progress:
  reset_delay: 1500ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ServerURL != "https://seek.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Capture.Source != "mic" || cfg.Capture.InputDevice != 2 {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
	if cfg.Capture.MaxDuration != 5*time.Second {
		t.Errorf("MaxDuration = %v, want 5s", cfg.Capture.MaxDuration)
	}
	if cfg.Progress.ResetDelay != 1500*time.Millisecond {
		t.Errorf("ResetDelay = %v, want 1.5s", cfg.Progress.ResetDelay)
	}
	// Untouched keys keep their defaults.
	if cfg.Progress.AcquisitionHideDelay != DefaultAcquisitionHide {
		t.Errorf("AcquisitionHideDelay = %v, want default", cfg.Progress.AcquisitionHideDelay)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeTempConfig(t, "capture:\n  source: device\n")
	t.Setenv("SEEKTUNE_CAPTURE_SOURCE", "mic")
	t.Setenv("SEEKTUNE_TRANSPORT_DRY_RUN", "true")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Capture.Source != "mic" {
		t.Errorf("Source = %q, want env override mic", cfg.Capture.Source)
	}
	if !cfg.Transport.DryRun {
		t.Error("DryRun should be overridden from env")
	}
}

func TestLoad_ExplicitOverride(t *testing.T) {
	v := viper.New()
	v.Set("server_url", "ws://10.0.0.5:5001")

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "ws://10.0.0.5:5001" {
		t.Errorf("ServerURL = %q, want override", cfg.ServerURL)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			t.Fatalf("Unmarshal defaults: %v", err)
		}
		return &cfg
	}

	tests := []struct {
		desc   string
		mutate func(c *Config)
		substr string
	}{
		{"Defaults", func(c *Config) {}, ""},
		{"Bad scheme", func(c *Config) { c.ServerURL = "ftp://x" }, "must use http"},
		{"No host", func(c *Config) { c.ServerURL = "http://" }, "has no host"},
		{"Bad source", func(c *Config) { c.Capture.Source = "tab" }, "capture.source"},
		{"Bad device", func(c *Config) { c.Capture.InputDevice = -2 }, "input_device"},
		{"Low rate", func(c *Config) { c.Capture.SampleRate = 100 }, "sample_rate"},
		{"Huge buffer", func(c *Config) { c.Capture.FramesPerBuffer = MaxBufferFrames + 1 }, "frames_per_buffer"},
		{"Zero duration", func(c *Config) { c.Capture.MaxDuration = 0 }, "max_duration"},
		{"Zero poll", func(c *Config) { c.Transport.PollInterval = 0 }, "poll_interval"},
		{"Negative delay", func(c *Config) { c.Progress.ResetDelay = -time.Second }, "progress delays"},
		{"Zero limit", func(c *Config) { c.Matches.DisplayLimit = 0 }, "display_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.substr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("Validate() = %v, want substring %q", err, tt.substr)
			}
		})
	}
}

func TestConfigYAML(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}
	for _, want := range []string{"server_url: http://localhost:5001", "max_duration: 20s", "display_limit: 5"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("YAML output missing %q:\n%s", want, out)
		}
	}
}
