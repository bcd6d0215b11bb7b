// Package config loads an optional YAML request file mirroring the CLI
// flags, so a recurring analysis can live next to the log it inspects.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root structure of a request file. Explicit CLI flags
// win over file values.
type Config struct {
	Log      string       `yaml:"log"`
	Start    string       `yaml:"start"`
	Delta    string       `yaml:"delta"`
	Commands []string     `yaml:"commands"`
	Filters  []FilterSpec `yaml:"filters"`
	Verbose  bool         `yaml:"verbose"`
}

// FilterSpec activates one named filter.
type FilterSpec struct {
	Name string `yaml:"name"`
	Arg  string `yaml:"arg,omitempty"`
}

// Load reads, parses and validates a request file. Window and filter
// arguments are validated later, with the rest of the request, before
// any file I/O.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for i, f := range cfg.Filters {
		if f.Name == "" {
			return nil, fmt.Errorf("validate config: filter at index %d is missing name", i)
		}
	}
	return &cfg, nil
}
