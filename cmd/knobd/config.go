package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Input modes an encoder entry can declare.
const (
	inputEvdevRel  = "evdev-rel"  // kernel driver accumulates, device reports EV_REL deltas
	inputEvdevKeys = "evdev-keys" // gpio-keys style device, one EV_KEY code per channel
	inputGPIO      = "gpio"       // raw A/B pins via sysfs GPIO
)

// Config is the top-level YAML configuration for the knobd daemon.
//
// The config file is the primary configuration surface; flags exist for small
// overrides and for environments where a file is awkward. Defaults and
// validation are centralized here so the rest of the code can assume a
// well-formed config.
type Config struct {
	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// IPC event socket (used by knob-ctl and external injectors)
	IPC IPCConfig `yaml:"ipc"`

	// HTTP state/websocket server
	HTTP HTTPConfig `yaml:"http"`

	// Daemon loop tuning
	Daemon DaemonConfig `yaml:"daemon"`

	// Optional downstream websocket sink for decoded steps
	Sink SinkConfig `yaml:"sink"`

	// The encoders to read
	Encoders []EncoderConfig `yaml:"encoders"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	// Port 0 disables the HTTP server (and with it /state and /ws).
	Port int `yaml:"port"`
}

type DaemonConfig struct {
	UpdateHz int `yaml:"update_hz"`
}

type SinkConfig struct {
	Enabled   bool   `yaml:"enabled"`
	WsURL     string `yaml:"ws_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// EncoderConfig declares one physical encoder and how to read it.
//
// Which fields apply depends on the input mode:
//   - evdev-rel:  device, rel_code
//   - evdev-keys: device, key_a, key_b
//   - gpio:       gpio_a, gpio_b
//
// invert flips the rotation direction regardless of mode.
type EncoderConfig struct {
	Name  string `yaml:"name"`
	Input string `yaml:"input"`

	Device  string `yaml:"device,omitempty"`
	RelCode string `yaml:"rel_code,omitempty"` // "dial", "wheel", or "misc"
	KeyA    int    `yaml:"key_a,omitempty"`
	KeyB    int    `yaml:"key_b,omitempty"`
	GPIOA   int    `yaml:"gpio_a,omitempty"`
	GPIOB   int    `yaml:"gpio_b,omitempty"`

	Invert bool `yaml:"invert,omitempty"`

	// Divisions is the number of raw counts per detent for evdev-rel
	// encoders. Sample-based modes decode detents directly and ignore it.
	Divisions int `yaml:"divisions,omitempty"`

	// ResetTimeoutMS drops partial raw counts after this much idle time, so a
	// missed event cannot leave the detent grid permanently shifted.
	ResetTimeoutMS int `yaml:"reset_timeout_ms,omitempty"`
}

// relCodeValue resolves the rel_code name to its EV_REL code. Call only after
// Validate has accepted the config.
func (e *EncoderConfig) relCodeValue() uint16 {
	switch e.RelCode {
	case "wheel":
		return REL_WHEEL
	case "misc":
		return REL_MISC
	default:
		return REL_DIAL
	}
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/knobd.sock",
		},
		HTTP: HTTPConfig{
			Port: defaultHTTPPort,
		},
		Daemon: DaemonConfig{
			UpdateHz: defaultUpdateHz,
		},
		Sink: SinkConfig{
			Enabled:   false,
			WsURL:     "",
			TimeoutMS: defaultSinkTimeoutMS,
		},
		// No encoders by default: a bare daemon still serves IPC and the
		// state websocket, which is all simulation setups need.
		Encoders: nil,
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true), and
// trailing YAML documents are refused.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries flag values to apply on top of a loaded config.
//
// Flags should pass pointers; each override is only applied if the pointer is
// non-nil. main.go decides which flags exist; keeping the mechanism separate
// avoids conditionals spreading through the code.
type FlagOverrides struct {
	LogLevel *string

	IPCSocketPath *string
	HTTPPort      *int
	UpdateHz      *int

	SinkEnabled *bool
	SinkWsURL   *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is
// ignored. If the pointer is non-nil, the value is applied even when it is a
// zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}
	if o.UpdateHz != nil {
		cfg.Daemon.UpdateHz = *o.UpdateHz
	}
	if o.SinkEnabled != nil {
		cfg.Sink.Enabled = *o.SinkEnabled
	}
	if o.SinkWsURL != nil {
		cfg.Sink.WsURL = *o.SinkWsURL
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// HTTP
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}

	// Daemon
	if c.Daemon.UpdateHz <= 0 || c.Daemon.UpdateHz > 1000 {
		return errors.New("daemon.update_hz must be between 1 and 1000")
	}

	// Sink
	if c.Sink.Enabled && c.Sink.WsURL == "" {
		return errors.New("sink.enabled is true but sink.ws_url is empty")
	}
	if c.Sink.TimeoutMS <= 0 {
		return errors.New("sink.timeout_ms must be > 0")
	}

	// Encoders
	seen := make(map[string]bool, len(c.Encoders))
	for i := range c.Encoders {
		e := &c.Encoders[i]
		if e.Name == "" {
			return fmt.Errorf("encoders[%d].name must not be empty", i)
		}
		if seen[e.Name] {
			return fmt.Errorf("encoders[%d]: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = true

		switch e.Input {
		case inputEvdevRel:
			if e.Device == "" {
				return fmt.Errorf("encoder %q: device is required for %s input", e.Name, inputEvdevRel)
			}
			switch e.RelCode {
			case "", "dial", "wheel", "misc":
			default:
				return fmt.Errorf("encoder %q: rel_code must be dial, wheel, or misc", e.Name)
			}
		case inputEvdevKeys:
			if e.Device == "" {
				return fmt.Errorf("encoder %q: device is required for %s input", e.Name, inputEvdevKeys)
			}
			if e.KeyA <= 0 || e.KeyB <= 0 {
				return fmt.Errorf("encoder %q: key_a and key_b are required for %s input", e.Name, inputEvdevKeys)
			}
			if e.KeyA == e.KeyB {
				return fmt.Errorf("encoder %q: key_a and key_b must differ", e.Name)
			}
		case inputGPIO:
			if e.GPIOA < 0 || e.GPIOB < 0 {
				return fmt.Errorf("encoder %q: gpio_a and gpio_b must be >= 0", e.Name)
			}
			if e.GPIOA == e.GPIOB {
				return fmt.Errorf("encoder %q: gpio_a and gpio_b must differ", e.Name)
			}
		default:
			return fmt.Errorf("encoder %q: input must be %s, %s, or %s",
				e.Name, inputEvdevRel, inputEvdevKeys, inputGPIO)
		}

		if e.Divisions < 0 || e.Divisions > 128 {
			return fmt.Errorf("encoder %q: divisions must be between 0 and 128", e.Name)
		}
		if e.ResetTimeoutMS < 0 {
			return fmt.Errorf("encoder %q: reset_timeout_ms must be >= 0", e.Name)
		}
	}

	return nil
}

// ToReducerConfig converts the user-facing encoder entries into the per-name
// parameters the reducer consumes, filling unset values with defaults.
func (c *Config) ToReducerConfig() ReducerConfig {
	rc := ReducerConfig{
		Encoders: make(map[string]EncoderParams, len(c.Encoders)),
	}
	for i := range c.Encoders {
		e := &c.Encoders[i]
		p := EncoderParams{
			Divisions:      int32(e.Divisions),
			ResetTimeoutMS: uint32(e.ResetTimeoutMS),
		}
		if p.Divisions == 0 {
			p.Divisions = defaultDivisions
		}
		if p.ResetTimeoutMS == 0 {
			p.ResetTimeoutMS = defaultResetTimeoutMS
		}
		rc.Encoders[e.Name] = p
	}
	return rc
}

// ExpandPath expands a leading "~" in a path using $HOME.
// This is handy for config values like ipc.socket_path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
