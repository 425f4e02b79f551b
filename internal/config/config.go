package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level camstream configuration.
type Config struct {
	Stream    StreamConfig    `toml:"stream"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Viewer    ViewerConfig    `toml:"viewer"`
}

type StreamConfig struct {
	// URL of the MJPEG endpoint. May be empty when discovery is enabled.
	URL                     string            `toml:"url"`
	Headers                 map[string]string `toml:"headers"`
	ConnectTimeoutMS        int               `toml:"connect_timeout_ms"`
	ChunkSizeBytes          int               `toml:"chunk_size_bytes"`
	MaxBufferBytes          int               `toml:"max_buffer_bytes"`
	BoundaryScanWindowBytes int               `toml:"boundary_scan_window_bytes"`
}

type DiscoveryConfig struct {
	Enabled    bool     `toml:"enabled"`
	Port       int      `toml:"port"`
	ProbePath  string   `toml:"probe_path"`
	StreamPath string   `toml:"stream_path"`
	Ranges     []string `toml:"ranges"`
	TimeoutMS  int      `toml:"timeout_ms"`
	Workers    int      `toml:"workers"`
}

type ViewerConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

func Default() Config {
	return Config{
		Stream: StreamConfig{
			ConnectTimeoutMS:        10_000,
			ChunkSizeBytes:          16 * 1024,
			MaxBufferBytes:          8 * 1024 * 1024,
			BoundaryScanWindowBytes: 64 * 1024,
		},
		Discovery: DiscoveryConfig{
			Enabled:    true,
			Port:       8080,
			ProbePath:  "/discover",
			StreamPath: "/stream",
			TimeoutMS:  1000,
			Workers:    50,
		},
		Viewer: ViewerConfig{
			Addr: ":8090",
		},
	}
}

// Load reads a TOML config, fills defaults, and validates. A missing path
// yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Stream.ConnectTimeoutMS == 0 {
		cfg.Stream.ConnectTimeoutMS = def.Stream.ConnectTimeoutMS
	}
	if cfg.Stream.ChunkSizeBytes == 0 {
		cfg.Stream.ChunkSizeBytes = def.Stream.ChunkSizeBytes
	}
	if cfg.Stream.MaxBufferBytes == 0 {
		cfg.Stream.MaxBufferBytes = def.Stream.MaxBufferBytes
	}
	if cfg.Stream.BoundaryScanWindowBytes == 0 {
		cfg.Stream.BoundaryScanWindowBytes = def.Stream.BoundaryScanWindowBytes
	}
	if cfg.Discovery.Port == 0 {
		cfg.Discovery.Port = def.Discovery.Port
	}
	if strings.TrimSpace(cfg.Discovery.ProbePath) == "" {
		cfg.Discovery.ProbePath = def.Discovery.ProbePath
	}
	if strings.TrimSpace(cfg.Discovery.StreamPath) == "" {
		cfg.Discovery.StreamPath = def.Discovery.StreamPath
	}
	if cfg.Discovery.TimeoutMS == 0 {
		cfg.Discovery.TimeoutMS = def.Discovery.TimeoutMS
	}
	if cfg.Discovery.Workers == 0 {
		cfg.Discovery.Workers = def.Discovery.Workers
	}
	if strings.TrimSpace(cfg.Viewer.Addr) == "" {
		cfg.Viewer.Addr = def.Viewer.Addr
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Stream.URL) == "" && !cfg.Discovery.Enabled {
		return fmt.Errorf("stream url required when discovery is disabled")
	}
	if cfg.Stream.ConnectTimeoutMS < 0 {
		return fmt.Errorf("stream connect_timeout_ms must not be negative")
	}
	if cfg.Stream.ChunkSizeBytes < 0 {
		return fmt.Errorf("stream chunk_size_bytes must not be negative")
	}
	if cfg.Stream.MaxBufferBytes < 0 {
		return fmt.Errorf("stream max_buffer_bytes must not be negative")
	}
	if cfg.Stream.BoundaryScanWindowBytes < 0 {
		return fmt.Errorf("stream boundary_scan_window_bytes must not be negative")
	}
	if cfg.Stream.MaxBufferBytes > 0 && cfg.Stream.BoundaryScanWindowBytes > cfg.Stream.MaxBufferBytes {
		return fmt.Errorf("boundary scan window must not exceed the buffer cap")
	}
	for name := range cfg.Stream.Headers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("stream header with empty name")
		}
	}
	if cfg.Discovery.Port < 1 || cfg.Discovery.Port > 65535 {
		return fmt.Errorf("discovery port out of range: %d", cfg.Discovery.Port)
	}
	if !strings.HasPrefix(cfg.Discovery.ProbePath, "/") {
		return fmt.Errorf("discovery probe_path must start with /")
	}
	if !strings.HasPrefix(cfg.Discovery.StreamPath, "/") {
		return fmt.Errorf("discovery stream_path must start with /")
	}
	return nil
}
