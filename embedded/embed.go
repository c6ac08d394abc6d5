package embedded

import (
	_ "embed"
)

//go:embed default.toml
var defaultConfig string

// DefaultConfig returns the embedded default station config in TOML.
func DefaultConfig() string {
	return defaultConfig
}
