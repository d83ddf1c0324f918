// SPDX-License-Identifier: MIT
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Core configuration constants that define the boundaries and defaults
// for the capture client.
const (
	DefaultServerURL       = "http://localhost:5001"
	DefaultSource          = "device"
	DefaultInputDevice     = MinDeviceID
	DefaultMonitorSource   = "@DEFAULT_MONITOR@"
	DefaultSampleRate      = 44100
	DefaultFramesPerBuffer = 1024
	DefaultMaxDuration     = 20 * time.Second // Hard capture bound
	DefaultPollInterval    = 8 * time.Second  // totalSongs refresh
	DefaultHandshake       = 10 * time.Second
	DefaultAcquisitionHide = 3 * time.Second
	DefaultResetDelay      = 4 * time.Second
	DefaultDisplayLimit    = 5

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192

	// EnvPrefix namespaces environment overrides, e.g. SEEKTUNE_SERVER_URL
	// or SEEKTUNE_CAPTURE_SOURCE.
	EnvPrefix = "SEEKTUNE"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	ServerURL string          `mapstructure:"server_url" yaml:"server_url"` // Base URL of the matching service.
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level"`   // debug, info, warn, error.
	LogFormat string          `mapstructure:"log_format" yaml:"log_format"` // text or json.
	LogFile   string          `mapstructure:"log_file" yaml:"log_file"`     // Log destination while the TUI owns the terminal.
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Progress  ProgressConfig  `mapstructure:"progress" yaml:"progress"`
	Matches   MatchesConfig   `mapstructure:"matches" yaml:"matches"`
}

// CaptureConfig holds settings for audio acquisition.
type CaptureConfig struct {
	Source          string        `mapstructure:"source" yaml:"source"`                       // "device" (system audio) or "mic".
	InputDevice     int           `mapstructure:"input_device" yaml:"input_device"`           // PortAudio device index for the microphone (-1 for default).
	MonitorSource   string        `mapstructure:"monitor_source" yaml:"monitor_source"`       // Pulse/PipeWire monitor captured for "device".
	SampleRate      float64       `mapstructure:"sample_rate" yaml:"sample_rate"`             // Requested rate; the negotiated one is reported.
	FramesPerBuffer int           `mapstructure:"frames_per_buffer" yaml:"frames_per_buffer"` // Frames per device read.
	MaxDuration     time.Duration `mapstructure:"max_duration" yaml:"max_duration"`           // Hard stop for one capture session.
}

// TransportConfig holds settings for the event channel.
type TransportConfig struct {
	DryRun           bool          `mapstructure:"dry_run" yaml:"dry_run"`                     // Log outbound events instead of sending.
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`         // totalSongs polling interval.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"` // Websocket dial timeout.
}

// ProgressConfig holds the visibility timers of the job progress view.
type ProgressConfig struct {
	AcquisitionHideDelay time.Duration `mapstructure:"acquisition_hide_delay" yaml:"acquisition_hide_delay"`
	ResetDelay           time.Duration `mapstructure:"reset_delay" yaml:"reset_delay"`
}

// MatchesConfig holds match list presentation settings.
type MatchesConfig struct {
	DisplayLimit int `mapstructure:"display_limit" yaml:"display_limit"`
}

// candidates are searched in order when no explicit path is given.
var candidates = []string{
	"seektune.yaml",
	filepath.Join(os.Getenv("HOME"), ".config", "seektune.yaml"),
}

// SetDefaults registers every key with its default so environment
// overrides and flag bindings are visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
	v.SetDefault("capture.source", DefaultSource)
	v.SetDefault("capture.input_device", DefaultInputDevice)
	v.SetDefault("capture.monitor_source", DefaultMonitorSource)
	v.SetDefault("capture.sample_rate", DefaultSampleRate)
	v.SetDefault("capture.frames_per_buffer", DefaultFramesPerBuffer)
	v.SetDefault("capture.max_duration", DefaultMaxDuration)
	v.SetDefault("transport.dry_run", false)
	v.SetDefault("transport.poll_interval", DefaultPollInterval)
	v.SetDefault("transport.handshake_timeout", DefaultHandshake)
	v.SetDefault("progress.acquisition_hide_delay", DefaultAcquisitionHide)
	v.SetDefault("progress.reset_delay", DefaultResetDelay)
	v.SetDefault("matches.display_limit", DefaultDisplayLimit)
}

// LoadConfig loads configuration from a YAML file specified by path using a
// fresh viper instance. See Load.
func LoadConfig(path string) (*Config, error) {
	return Load(viper.New(), path)
}

// Load reads configuration into v and decodes it. If path is empty, the
// default locations are searched and built-in defaults are used when none
// exists. Environment variables (SEEKTUNE_*) and any flags already bound to
// v take precedence over the file. The result is validated.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate rejects values the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server_url %q: %w", c.ServerURL, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("server_url %q must use http, https, ws or wss", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("server_url %q has no host", c.ServerURL)
	}

	switch c.Capture.Source {
	case "device", "mic":
	default:
		return fmt.Errorf("capture.source must be \"device\" or \"mic\", got %q", c.Capture.Source)
	}
	if c.Capture.InputDevice < MinDeviceID {
		return fmt.Errorf("capture.input_device must be >= %d", MinDeviceID)
	}
	if c.Capture.SampleRate < MinSampleRate || c.Capture.SampleRate > MaxSampleRate {
		return fmt.Errorf("capture.sample_rate %.0f outside [%d, %d]", c.Capture.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Capture.FramesPerBuffer <= 0 || c.Capture.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("capture.frames_per_buffer must be in (0, %d]", MaxBufferFrames)
	}
	if c.Capture.MaxDuration <= 0 {
		return fmt.Errorf("capture.max_duration must be positive")
	}

	if c.Transport.PollInterval <= 0 {
		return fmt.Errorf("transport.poll_interval must be positive")
	}
	if c.Transport.HandshakeTimeout <= 0 {
		return fmt.Errorf("transport.handshake_timeout must be positive")
	}
	if c.Progress.AcquisitionHideDelay < 0 || c.Progress.ResetDelay < 0 {
		return fmt.Errorf("progress delays must not be negative")
	}
	if c.Matches.DisplayLimit <= 0 {
		return fmt.Errorf("matches.display_limit must be positive")
	}

	return nil
}

// YAML renders the effective configuration, as printed by `config show`.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
