package classifier

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed classify.yaml
var defaultConfigYAML []byte

// Archetype is one of the fixed work-style categories. Description is the
// representative text embedded once at startup; Name is the canonical label
// used in role formatting. Order in the config is the tie-break order.
type Archetype struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Decoration selects the font variant and color for one tier.
type Decoration struct {
	Font  string `yaml:"font"`
	Color string `yaml:"color"`
}

// Config is the classification document: archetypes, ascending tier
// thresholds in minutes, and per-tier role decorations. Thresholds are data,
// not code, so tier boundaries can be tuned without touching the algorithm.
type Config struct {
	Archetypes  []Archetype  `yaml:"archetypes"`
	Thresholds  []int64      `yaml:"thresholds"`
	Decorations []Decoration `yaml:"decorations"`
}

// DefaultConfig parses the embedded document.
func DefaultConfig() (Config, error) {
	return parseConfig(defaultConfigYAML)
}

// LoadConfig reads a config file, falling back to the embedded document when
// path is empty.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read classifier config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse classifier config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Archetypes) == 0 {
		return fmt.Errorf("classifier config: no archetypes")
	}
	if len(c.Thresholds) == 0 {
		return fmt.Errorf("classifier config: no tier thresholds")
	}
	if c.Thresholds[0] != 0 {
		return fmt.Errorf("classifier config: first tier threshold must be 0")
	}
	for i := 1; i < len(c.Thresholds); i++ {
		if c.Thresholds[i] <= c.Thresholds[i-1] {
			return fmt.Errorf("classifier config: thresholds must be strictly ascending")
		}
	}
	if len(c.Decorations) != len(c.Thresholds) {
		return fmt.Errorf("classifier config: %d decorations for %d tiers", len(c.Decorations), len(c.Thresholds))
	}
	return nil
}
