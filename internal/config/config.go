package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Ingest    IngestConfig    `yaml:"ingest"`
	Output    OutputConfig    `yaml:"output"`
	Buffering BufferingConfig `yaml:"buffering"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IngestConfig contains the UDP ingestion configuration. The primary port
// receives decoded OP25 audio; the inject port optionally receives test
// audio that overrides the primary source while present.
type IngestConfig struct {
	BindAddress string `yaml:"bind_address"`
	PrimaryPort int    `yaml:"primary_port"`
	InjectPort  int    `yaml:"inject_port"` // 0 disables the inject source
	ReadBuffer  int    `yaml:"read_buffer"` // SO_RCVBUF hint, bytes
}

// OutputConfig contains the TCP stream output configuration.
type OutputConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// BufferingConfig contains the pacing and buffering parameters.
type BufferingConfig struct {
	MaxBufferSeconds float64 `yaml:"max_buffer_seconds"` // hard per-source safety cap
	MinBufferMS      int     `yaml:"min_buffer_ms"`      // jitter buffer target; 0 disables
	InjectHoldMS     int     `yaml:"inject_hold_ms"`     // keep inject authoritative this long after its last datagram
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no config file is present.
// The port defaults match OP25's stock UDP audio output.
func Default() *Config {
	return &Config{
		Ingest: IngestConfig{
			BindAddress: "0.0.0.0",
			PrimaryPort: 23456,
			InjectPort:  23457,
			ReadBuffer:  65536,
		},
		Output: OutputConfig{
			BindAddress: "0.0.0.0",
			Port:        19000,
		},
		Buffering: BufferingConfig{
			MaxBufferSeconds: 30,
			MinBufferMS:      250,
			InjectHoldMS:     750,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    8090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file. Values missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest config: %w", err)
	}

	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if err := c.Buffering.Validate(); err != nil {
		return fmt.Errorf("buffering config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates ingest configuration
func (i *IngestConfig) Validate() error {
	if i.PrimaryPort < 1 || i.PrimaryPort > 65535 {
		return fmt.Errorf("primary_port must be between 1 and 65535, got %d", i.PrimaryPort)
	}

	// Inject port 0 means the inject source is disabled.
	if i.InjectPort < 0 || i.InjectPort > 65535 {
		return fmt.Errorf("inject_port must be between 0 and 65535, got %d", i.InjectPort)
	}

	if i.InjectPort != 0 && i.InjectPort == i.PrimaryPort {
		return fmt.Errorf("inject_port must differ from primary_port, both are %d", i.PrimaryPort)
	}

	if i.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if i.ReadBuffer < 1024 {
		return fmt.Errorf("read_buffer must be at least 1024 bytes, got %d", i.ReadBuffer)
	}

	return nil
}

// Validate validates output configuration
func (o *OutputConfig) Validate() error {
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", o.Port)
	}

	if o.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	return nil
}

// Validate validates buffering configuration
func (b *BufferingConfig) Validate() error {
	if b.MaxBufferSeconds <= 0 {
		return fmt.Errorf("max_buffer_seconds must be positive, got %f", b.MaxBufferSeconds)
	}

	if b.MinBufferMS < 0 {
		return fmt.Errorf("min_buffer_ms cannot be negative, got %d", b.MinBufferMS)
	}

	if b.InjectHoldMS < 0 {
		return fmt.Errorf("inject_hold_ms cannot be negative, got %d", b.InjectHoldMS)
	}

	maxMS := int(b.MaxBufferSeconds * 1000)
	if b.MinBufferMS > maxMS {
		return fmt.Errorf("min_buffer_ms (%d) cannot exceed max_buffer_seconds (%f)", b.MinBufferMS, b.MaxBufferSeconds)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetMaxBufferDuration returns the per-source safety cap as a time.Duration
func (b *BufferingConfig) GetMaxBufferDuration() time.Duration {
	return time.Duration(b.MaxBufferSeconds * float64(time.Second))
}

// GetMinBufferDuration returns the jitter buffer target as a time.Duration
func (b *BufferingConfig) GetMinBufferDuration() time.Duration {
	return time.Duration(b.MinBufferMS) * time.Millisecond
}

// GetInjectHoldDuration returns the inject hold window as a time.Duration
func (b *BufferingConfig) GetInjectHoldDuration() time.Duration {
	return time.Duration(b.InjectHoldMS) * time.Millisecond
}
