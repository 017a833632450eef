package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validTestConfig returns a config that passes Validate, with one encoder of
// each input kind so encoder-level mutations have something to break.
func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Encoders = []EncoderConfig{
		{Name: "vol", Input: inputEvdevRel, Device: "/dev/input/event0", RelCode: "dial"},
		{Name: "tuner", Input: inputEvdevKeys, Device: "/dev/input/event1", KeyA: 275, KeyB: 276},
		{Name: "jog", Input: inputGPIO, GPIOA: 17, GPIOB: 27},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Logging.Level)
	}
	if cfg.IPC.SocketPath != "/tmp/knobd.sock" {
		t.Errorf("expected default socket /tmp/knobd.sock, got %q", cfg.IPC.SocketPath)
	}
	if cfg.HTTP.Port != defaultHTTPPort {
		t.Errorf("expected default http port %d, got %d", defaultHTTPPort, cfg.HTTP.Port)
	}
	if cfg.Daemon.UpdateHz != defaultUpdateHz {
		t.Errorf("expected default update_hz %d, got %d", defaultUpdateHz, cfg.Daemon.UpdateHz)
	}
	if cfg.Sink.Enabled {
		t.Error("expected sink disabled by default")
	}
	if cfg.Sink.TimeoutMS != defaultSinkTimeoutMS {
		t.Errorf("expected default sink timeout %d, got %d", defaultSinkTimeoutMS, cfg.Sink.TimeoutMS)
	}
	if len(cfg.Encoders) != 0 {
		t.Errorf("expected no default encoders, got %d", len(cfg.Encoders))
	}

	// Defaults must themselves validate.
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	yaml := `logging:
  level: debug
ipc:
  socket_path: /run/knobd.sock
http:
  port: 9090
daemon:
  update_hz: 50
sink:
  enabled: true
  ws_url: ws://127.0.0.1:1234/steps
  timeout_ms: 250
encoders:
  - name: vol
    input: evdev-rel
    device: /dev/input/by-path/platform-rotary-event
    rel_code: dial
    divisions: 2
    reset_timeout_ms: 800
  - name: jog
    input: gpio
    gpio_a: 17
    gpio_b: 27
    invert: true
`
	dir := t.TempDir()
	path := filepath.Join(dir, "knobd.yml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %q", cfg.Logging.Level)
	}
	if cfg.IPC.SocketPath != "/run/knobd.sock" {
		t.Errorf("expected socket /run/knobd.sock, got %q", cfg.IPC.SocketPath)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Daemon.UpdateHz != 50 {
		t.Errorf("expected update_hz 50, got %d", cfg.Daemon.UpdateHz)
	}
	if !cfg.Sink.Enabled || cfg.Sink.WsURL != "ws://127.0.0.1:1234/steps" || cfg.Sink.TimeoutMS != 250 {
		t.Errorf("unexpected sink config: %+v", cfg.Sink)
	}
	if len(cfg.Encoders) != 2 {
		t.Fatalf("expected 2 encoders, got %d", len(cfg.Encoders))
	}
	vol := cfg.Encoders[0]
	if vol.Name != "vol" || vol.Input != inputEvdevRel || vol.Divisions != 2 || vol.ResetTimeoutMS != 800 {
		t.Errorf("unexpected vol encoder: %+v", vol)
	}
	jog := cfg.Encoders[1]
	if jog.Name != "jog" || jog.Input != inputGPIO || jog.GPIOA != 17 || jog.GPIOB != 27 || !jog.Invert {
		t.Errorf("unexpected jog encoder: %+v", jog)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config failed validation: %v", err)
	}
}

func TestLoadConfigFile_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knobd.yml")
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected level warn, got %q", cfg.Logging.Level)
	}
	// Everything the file does not mention keeps its default.
	if cfg.HTTP.Port != defaultHTTPPort {
		t.Errorf("expected default http port %d, got %d", defaultHTTPPort, cfg.HTTP.Port)
	}
	if cfg.IPC.SocketPath != "/tmp/knobd.sock" {
		t.Errorf("expected default socket path, got %q", cfg.IPC.SocketPath)
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown top-level field",
			yaml:    "loging:\n  level: info\n",
			wantErr: "decode config yaml",
		},
		{
			name:    "unknown nested field",
			yaml:    "sink:\n  enabled: true\n  url: ws://x\n",
			wantErr: "decode config yaml",
		},
		{
			name:    "trailing document",
			yaml:    "logging:\n  level: info\n---\nlogging:\n  level: debug\n",
			wantErr: "unexpected trailing document",
		},
		{
			name:    "malformed yaml",
			yaml:    "logging: [unclosed\n",
			wantErr: "decode config yaml",
		},
		{
			name:    "wrong scalar type",
			yaml:    "http:\n  port: not-a-number\n",
			wantErr: "decode config yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "knobd.yml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := LoadConfigFile(path)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := LoadConfigFile(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "empty log level",
			mutate:  func(c *Config) { c.Logging.Level = "" },
			wantErr: "logging.level",
		},
		{
			name:    "empty socket path",
			mutate:  func(c *Config) { c.IPC.SocketPath = "" },
			wantErr: "ipc.socket_path",
		},
		{
			name:    "negative http port",
			mutate:  func(c *Config) { c.HTTP.Port = -1 },
			wantErr: "http.port",
		},
		{
			name:    "http port too large",
			mutate:  func(c *Config) { c.HTTP.Port = 70000 },
			wantErr: "http.port",
		},
		{
			name:    "update_hz zero",
			mutate:  func(c *Config) { c.Daemon.UpdateHz = 0 },
			wantErr: "daemon.update_hz",
		},
		{
			name:    "update_hz too large",
			mutate:  func(c *Config) { c.Daemon.UpdateHz = 1001 },
			wantErr: "daemon.update_hz",
		},
		{
			name:    "sink enabled without url",
			mutate:  func(c *Config) { c.Sink.Enabled = true; c.Sink.WsURL = "" },
			wantErr: "sink.ws_url",
		},
		{
			name:    "sink timeout zero",
			mutate:  func(c *Config) { c.Sink.TimeoutMS = 0 },
			wantErr: "sink.timeout_ms",
		},
		{
			name:    "encoder without name",
			mutate:  func(c *Config) { c.Encoders[0].Name = "" },
			wantErr: "name must not be empty",
		},
		{
			name:    "duplicate encoder name",
			mutate:  func(c *Config) { c.Encoders[1].Name = c.Encoders[0].Name },
			wantErr: "duplicate name",
		},
		{
			name:    "unknown input mode",
			mutate:  func(c *Config) { c.Encoders[0].Input = "i2c" },
			wantErr: "input must be",
		},
		{
			name:    "evdev-rel without device",
			mutate:  func(c *Config) { c.Encoders[0].Device = "" },
			wantErr: "device is required",
		},
		{
			name:    "bad rel_code",
			mutate:  func(c *Config) { c.Encoders[0].RelCode = "ball" },
			wantErr: "rel_code must be",
		},
		{
			name:    "evdev-keys without device",
			mutate:  func(c *Config) { c.Encoders[1].Device = "" },
			wantErr: "device is required",
		},
		{
			name:    "evdev-keys missing key_b",
			mutate:  func(c *Config) { c.Encoders[1].KeyB = 0 },
			wantErr: "key_a and key_b are required",
		},
		{
			name:    "evdev-keys identical keys",
			mutate:  func(c *Config) { c.Encoders[1].KeyB = c.Encoders[1].KeyA },
			wantErr: "key_a and key_b must differ",
		},
		{
			name:    "gpio identical pins",
			mutate:  func(c *Config) { c.Encoders[2].GPIOB = c.Encoders[2].GPIOA },
			wantErr: "gpio_a and gpio_b must differ",
		},
		{
			name:    "gpio negative pin",
			mutate:  func(c *Config) { c.Encoders[2].GPIOA = -3 },
			wantErr: "gpio_a and gpio_b must be >= 0",
		},
		{
			name:    "divisions out of range",
			mutate:  func(c *Config) { c.Encoders[0].Divisions = 129 },
			wantErr: "divisions must be",
		},
		{
			name:    "negative reset timeout",
			mutate:  func(c *Config) { c.Encoders[0].ResetTimeoutMS = -1 },
			wantErr: "reset_timeout_ms must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestFlagOverridesApply(t *testing.T) {
	cfg := DefaultConfig()

	// Nil pointers leave the config untouched.
	FlagOverrides{}.Apply(&cfg)
	if cfg.HTTP.Port != defaultHTTPPort || cfg.Logging.Level != "info" {
		t.Fatalf("empty overrides changed the config: %+v", cfg)
	}

	level := "debug"
	port := 0 // explicit zero must still be applied (disables HTTP)
	hz := 25
	enabled := true
	url := "ws://127.0.0.1:9000/steps"
	socket := "/run/knobd.sock"
	FlagOverrides{
		LogLevel:      &level,
		IPCSocketPath: &socket,
		HTTPPort:      &port,
		UpdateHz:      &hz,
		SinkEnabled:   &enabled,
		SinkWsURL:     &url,
	}.Apply(&cfg)

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %q", cfg.Logging.Level)
	}
	if cfg.IPC.SocketPath != socket {
		t.Errorf("expected socket %q, got %q", socket, cfg.IPC.SocketPath)
	}
	if cfg.HTTP.Port != 0 {
		t.Errorf("expected port 0, got %d", cfg.HTTP.Port)
	}
	if cfg.Daemon.UpdateHz != 25 {
		t.Errorf("expected update_hz 25, got %d", cfg.Daemon.UpdateHz)
	}
	if !cfg.Sink.Enabled || cfg.Sink.WsURL != url {
		t.Errorf("unexpected sink config: %+v", cfg.Sink)
	}
}

func TestToReducerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encoders = []EncoderConfig{
		{Name: "vol", Input: inputEvdevRel, Device: "/dev/input/event0", Divisions: 2, ResetTimeoutMS: 300},
		{Name: "jog", Input: inputGPIO, GPIOA: 17, GPIOB: 27},
	}

	rc := cfg.ToReducerConfig()

	vol := rc.Encoders["vol"]
	if vol.Divisions != 2 || vol.ResetTimeoutMS != 300 {
		t.Errorf("expected explicit params to carry over, got %+v", vol)
	}

	// Unset values fall back to the decoder defaults.
	jog := rc.Encoders["jog"]
	if jog.Divisions != defaultDivisions || jog.ResetTimeoutMS != defaultResetTimeoutMS {
		t.Errorf("expected default params for jog, got %+v", jog)
	}
}

func TestRelCodeValue(t *testing.T) {
	e := EncoderConfig{RelCode: "dial"}
	if got := e.relCodeValue(); got != REL_DIAL {
		t.Errorf("dial: expected 0x%02x, got 0x%02x", REL_DIAL, got)
	}
	e.RelCode = "wheel"
	if got := e.relCodeValue(); got != REL_WHEEL {
		t.Errorf("wheel: expected 0x%02x, got 0x%02x", REL_WHEEL, got)
	}
	e.RelCode = "misc"
	if got := e.relCodeValue(); got != REL_MISC {
		t.Errorf("misc: expected 0x%02x, got 0x%02x", REL_MISC, got)
	}
	// Unset defaults to the dial axis.
	e.RelCode = ""
	if got := e.relCodeValue(); got != REL_DIAL {
		t.Errorf("empty: expected 0x%02x, got 0x%02x", REL_DIAL, got)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandPath(""); got != "" {
		t.Errorf("empty path: got %q", got)
	}
	if got := ExpandPath("/tmp/knobd.sock"); got != "/tmp/knobd.sock" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandPath("~"); got != home {
		t.Errorf("~: expected %q, got %q", home, got)
	}
	if got := ExpandPath("~/knobd.sock"); got != filepath.Join(home, "knobd.sock") {
		t.Errorf("~/: expected %q, got %q", filepath.Join(home, "knobd.sock"), got)
	}
	// ~user expansion is not supported and passes through untouched.
	if got := ExpandPath("~other/x"); got != "~other/x" {
		t.Errorf("~other: expected passthrough, got %q", got)
	}
}
