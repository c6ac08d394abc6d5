package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigbag/dllink/internal/link"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dllink.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Name != "dllink" {
		t.Errorf("Name = %q, want dllink", cfg.Name)
	}
	if cfg.Address != 0x00 || cfg.Capacity != 8 || cfg.MaxFragments != 32 {
		t.Errorf("link settings = %+v, want address 0, capacity 8, max fragments 32", cfg.Link())
	}
	if cfg.Baud != 115200 {
		t.Errorf("Baud = %d, want 115200", cfg.Baud)
	}
	if cfg.ReadTimeout != 100*time.Millisecond {
		t.Errorf("ReadTimeout = %v, want 100ms", cfg.ReadTimeout)
	}
	if cfg.LogLevel != "info" || cfg.Port != "" || cfg.MetricsAddr != "" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
name = "bench-a"
address = 0x21
capacity = 16
port = "/dev/ttyUSB1"
read_timeout = "250ms"
metrics_addr = "127.0.0.1:9108"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "bench-a" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.Address != 0x21 {
		t.Fatalf("unexpected address: 0x%02X", cfg.Address)
	}
	if cfg.Capacity != 16 {
		t.Fatalf("unexpected capacity: %d", cfg.Capacity)
	}
	if cfg.MaxFragments != 32 {
		t.Fatalf("max_fragments not defaulted: %d", cfg.MaxFragments)
	}
	if cfg.Port != "/dev/ttyUSB1" {
		t.Fatalf("unexpected port: %q", cfg.Port)
	}
	if cfg.Baud != 115200 {
		t.Fatalf("baud not defaulted: %d", cfg.Baud)
	}
	if cfg.ReadTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected read timeout: %v", cfg.ReadTimeout)
	}
	if cfg.MetricsAddr != "127.0.0.1:9108" {
		t.Fatalf("unexpected metrics addr: %q", cfg.MetricsAddr)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown key", `speed = 9600`, ErrInvalid},
		{"address out of range", `address = 300`, ErrInvalid},
		{"broadcast address", `address = 255`, link.ErrInvalidConfig},
		{"zero capacity", `capacity = 0`, link.ErrInvalidConfig},
		{"capacity too large", `capacity = 256`, link.ErrInvalidConfig},
		{"max fragments too large", `max_fragments = 257`, link.ErrInvalidConfig},
		{"zero baud", `baud = 0`, ErrInvalid},
		{"bad log level", `log_level = "loud"`, ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("Load() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadBadDuration(t *testing.T) {
	if _, err := Load(writeConfig(t, `read_timeout = "soon"`)); err == nil {
		t.Error("Load() accepted an unparsable read_timeout")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load() of a missing file returned no error")
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Name = "round-trip"
	cfg.Address = 0x42
	cfg.Capacity = 32
	cfg.Port = "COM3"
	cfg.ReadTimeout = 2 * time.Second

	var buf bytes.Buffer
	if err := cfg.Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := Parse(buf.String(), Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v\n%s", err, buf.String())
	}
	if got != cfg {
		t.Errorf("Parse(Encode(cfg)) = %+v, want %+v", got, cfg)
	}
}

func TestLink(t *testing.T) {
	cfg := Default()
	cfg.Address = 0x07
	cfg.Capacity = 4
	cfg.MaxFragments = 9

	want := link.Config{Address: 0x07, Capacity: 4, MaxFragments: 9}
	if got := cfg.Link(); got != want {
		t.Errorf("Link() = %+v, want %+v", got, want)
	}
}
