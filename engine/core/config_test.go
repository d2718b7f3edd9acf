package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseConfigOverridesDefaults(t *testing.T) {
	data := []byte(`
[application]
name = "demo"
width = 640
height = 480

[renderer]
present_mode = "mailbox"
max_frames_in_flight = 3

[log]
level = "debug"
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Application.Name != "demo" || cfg.Application.Width != 640 || cfg.Application.Height != 480 {
		t.Errorf("unexpected application section: %+v", cfg.Application)
	}
	if cfg.Renderer.PresentMode != "mailbox" || cfg.Renderer.MaxFramesInFlight != 3 {
		t.Errorf("unexpected renderer section: %+v", cfg.Renderer)
	}
	// untouched keys keep their defaults
	if cfg.Renderer.UsePoolBlockSize != 4096 {
		t.Errorf("UsePoolBlockSize = %d, want 4096", cfg.Renderer.UsePoolBlockSize)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"zero width", "[application]\nwidth = 0\n"},
		{"bad present mode", "[renderer]\npresent_mode = \"vsync\"\n"},
		{"no frames in flight", "[renderer]\nmax_frames_in_flight = 0\n"},
		{"no workers", "[shaders]\nworkers = 0\n"},
		{"malformed", "[renderer\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.data)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Application.Name = "roundtrip"
	cfg.Shaders.HotReload = true
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "kiln.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("loaded %+v, want %+v", loaded, cfg)
	}
}

func TestSetLogLevel(t *testing.T) {
	if err := SetLogLevel("warn"); err != nil {
		t.Fatalf("SetLogLevel: %v", err)
	}
	if err := SetLogLevel("loud"); err == nil {
		t.Fatalf("expected an error for an unknown level")
	}
	_ = SetLogLevel("info")
}
