package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type ApplicationConfig struct {
	Name   string `toml:"name"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	Debug             bool   `toml:"debug"`
	MaxFramesInFlight uint32 `toml:"max_frames_in_flight"`
	// PresentMode is one of "fifo", "mailbox" or "immediate".
	PresentMode      string `toml:"present_mode"`
	MinImageCount    uint32 `toml:"min_image_count"`
	FenceTimeoutMs   uint64 `toml:"fence_timeout_ms"`
	AcquireTimeoutMs uint64 `toml:"acquire_timeout_ms"`
	UsePoolBlockSize int    `toml:"use_pool_block_size"`
}

type ShadersConfig struct {
	Directory string `toml:"directory"`
	HotReload bool   `toml:"hot_reload"`
	Workers   int    `toml:"workers"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Renderer    RendererConfig    `toml:"renderer"`
	Shaders     ShadersConfig     `toml:"shaders"`
	Log         LogConfig         `toml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:   "Kiln",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			MaxFramesInFlight: 2,
			PresentMode:       "fifo",
			MinImageCount:     3,
			FenceTimeoutMs:    10_000,
			AcquireTimeoutMs:  10_000,
			UsePoolBlockSize:  4096,
		},
		Shaders: ShadersConfig{
			Directory: "assets/shaders",
			Workers:   4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults. A missing file is not
// an error; the defaults are returned as they are.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			LogWarn("config file %s not found, using defaults", path)
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return fmt.Errorf("invalid window size %dx%d", c.Application.Width, c.Application.Height)
	}
	if c.Renderer.MaxFramesInFlight == 0 {
		return errors.New("max_frames_in_flight must be at least 1")
	}
	switch c.Renderer.PresentMode {
	case "fifo", "mailbox", "immediate":
	default:
		return fmt.Errorf("unknown present mode %q", c.Renderer.PresentMode)
	}
	if c.Renderer.UsePoolBlockSize <= 0 {
		return errors.New("use_pool_block_size must be positive")
	}
	if c.Shaders.Workers <= 0 {
		return errors.New("shader workers must be at least 1")
	}
	return nil
}

// Encode renders the configuration back to TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
