// Package config loads station settings from TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bigbag/dllink/embedded"
	"github.com/bigbag/dllink/internal/link"
	"github.com/bigbag/dllink/internal/observability"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the effective station configuration.
type Config struct {
	Name         string
	Address      byte
	Capacity     int
	MaxFragments int
	Port         string
	Baud         int
	ReadTimeout  time.Duration
	LogLevel     string
	MetricsAddr  string
}

type fileConfig struct {
	Name         string `toml:"name"`
	Address      int    `toml:"address"`
	Capacity     int    `toml:"capacity"`
	MaxFragments int    `toml:"max_fragments"`
	Port         string `toml:"port"`
	Baud         int    `toml:"baud"`
	ReadTimeout  string `toml:"read_timeout"`
	LogLevel     string `toml:"log_level"`
	MetricsAddr  string `toml:"metrics_addr"`
}

// Default returns the embedded defaults. It panics if the embedded file is broken.
func Default() Config {
	cfg, err := Parse(embedded.DefaultConfig(), builtin())
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

func builtin() Config {
	d := link.DefaultConfig()
	return Config{
		Name:         "dllink",
		Address:      d.Address,
		Capacity:     d.Capacity,
		MaxFragments: d.MaxFragments,
		Baud:         115200,
		ReadTimeout:  100 * time.Millisecond,
		LogLevel:     "info",
	}
}

// Load reads path on top of the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := apply(&cfg, raw, meta); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML data on top of base.
func Parse(data string, base Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg := base
	if err := apply(&cfg, raw, meta); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}

	if meta.IsDefined("address") {
		if raw.Address < 0 || raw.Address > 0xFF {
			return fmt.Errorf("%w: address %d outside 0..255", ErrInvalid, raw.Address)
		}
		cfg.Address = byte(raw.Address)
	}

	if meta.IsDefined("capacity") {
		cfg.Capacity = raw.Capacity
	}

	if meta.IsDefined("max_fragments") {
		cfg.MaxFragments = raw.MaxFragments
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}

	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}

	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	return nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := c.Link().Validate(); err != nil {
		return err
	}
	if c.Baud <= 0 {
		return fmt.Errorf("%w: baud %d", ErrInvalid, c.Baud)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: read_timeout %v", ErrInvalid, c.ReadTimeout)
	}
	if _, ok := observability.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// Link returns the link-layer part of the config.
func (c Config) Link() link.Config {
	return link.Config{
		Address:      c.Address,
		Capacity:     c.Capacity,
		MaxFragments: c.MaxFragments,
	}
}

// Encode writes c as TOML.
func (c Config) Encode(w io.Writer) error {
	raw := fileConfig{
		Name:         c.Name,
		Address:      int(c.Address),
		Capacity:     c.Capacity,
		MaxFragments: c.MaxFragments,
		Port:         c.Port,
		Baud:         c.Baud,
		ReadTimeout:  c.ReadTimeout.String(),
		LogLevel:     c.LogLevel,
		MetricsAddr:  c.MetricsAddr,
	}
	return toml.NewEncoder(w).Encode(raw)
}
