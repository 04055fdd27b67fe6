// Package config loads environment configuration and the optional sink
// manifest file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more
// paths to load from specific files; with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat returns the float value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid number.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// SinkSpec describes one statically configured sink in the manifest.
type SinkSpec struct {
	// ID is the sink's registration name. Required and unique.
	ID string `yaml:"id"`

	// Type is one of "pipe", "file", "display".
	Type string `yaml:"type"`

	// Policy is one of "blocking", "drop-oldest", "drop-newest".
	// Defaults to "blocking".
	Policy string `yaml:"policy"`

	// Depth is the sink's queue depth. Defaults to 1.
	Depth int `yaml:"depth"`

	// Target is type-specific: the output directory for "file", unused
	// for "display", and an optional override command for "pipe".
	Target string `yaml:"target"`
}

// Manifest is the optional YAML file describing sinks to register at
// startup, in addition to those implied by command-line flags.
type Manifest struct {
	Sinks []SinkSpec `yaml:"sinks"`
}

// LoadManifest parses the sink manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: parse manifest %s: %w", path, err)
	}

	seen := make(map[string]bool, len(m.Sinks))
	for i := range m.Sinks {
		s := &m.Sinks[i]
		if s.ID == "" {
			return nil, fmt.Errorf("config: manifest sink %d has no id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("config: duplicate sink id %q", s.ID)
		}
		seen[s.ID] = true
		switch s.Type {
		case "pipe", "file", "display":
		default:
			return nil, fmt.Errorf("config: sink %q has unknown type %q", s.ID, s.Type)
		}
		if s.Policy == "" {
			s.Policy = "blocking"
		}
		switch s.Policy {
		case "blocking", "drop-oldest", "drop-newest":
		default:
			return nil, fmt.Errorf("config: sink %q has unknown policy %q", s.ID, s.Policy)
		}
		if s.Depth == 0 {
			s.Depth = 1
		}
		if s.Depth < 1 {
			return nil, fmt.Errorf("config: sink %q has invalid depth %d", s.ID, s.Depth)
		}
	}
	return &m, nil
}
