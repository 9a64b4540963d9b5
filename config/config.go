// Package config loads run configuration: engine knobs and the allocation
// scenario to search over.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine holds the search engine knobs. Zero values defer to the engine's
// documented defaults.
type Engine struct {
	Goroutines   int     `yaml:"goroutines"`
	Episodes     int     `yaml:"episodes"`
	Duration     string  `yaml:"duration"` // wall-clock budget, e.g. "500ms"; used when episodes is 0
	BatchSize    int     `yaml:"batch_size"`
	Cutoff       int     `yaml:"cutoff"`
	Exploration  float64 `yaml:"exploration"`
	RiskAversion float64 `yaml:"risk_aversion"`
	Percentile   float64 `yaml:"percentile"`
	Criterion    string  `yaml:"criterion"` // robust, greedy, or conservative
	Seed         uint64  `yaml:"seed"`
}

// Asset mirrors portfolio.Asset for configuration files.
type Asset struct {
	Name       string  `yaml:"name"`
	Drift      float64 `yaml:"drift"`
	Volatility float64 `yaml:"volatility"`
}

// Scenario mirrors portfolio.Scenario for configuration files.
type Scenario struct {
	Name            string  `yaml:"name"`
	Assets          []Asset `yaml:"assets"`
	Budget          float64 `yaml:"budget"`
	Horizon         int     `yaml:"horizon"`
	UnitCost        float64 `yaml:"unit_cost"`
	MaxUnitsPerStep int     `yaml:"max_units_per_step"`
	RiskTolerance   float64 `yaml:"risk_tolerance"`
}

// Config is one run configuration file.
type Config struct {
	Engine   Engine   `yaml:"engine"`
	Scenario Scenario `yaml:"scenario"`
}

// Load reads a YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SearchDuration parses the wall-clock budget; zero when unset.
func (c *Config) SearchDuration() (time.Duration, error) {
	if c.Engine.Duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Engine.Duration)
	if err != nil {
		return 0, fmt.Errorf("parse engine duration: %w", err)
	}
	return d, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.Goroutines == 0 {
		c.Engine.Goroutines = 4
	}
	if c.Engine.Episodes == 0 && c.Engine.Duration == "" {
		c.Engine.Episodes = 2000
	}
	if c.Scenario.Name == "" {
		c.Scenario.Name = "default"
	}
	if c.Scenario.UnitCost == 0 {
		c.Scenario.UnitCost = 1
	}
	if c.Scenario.MaxUnitsPerStep == 0 {
		c.Scenario.MaxUnitsPerStep = 1
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.Engine.Goroutines < 1 {
		problems = append(problems, "engine.goroutines must be positive")
	}
	if c.Engine.Episodes < 0 {
		problems = append(problems, "engine.episodes must not be negative")
	}
	if c.Engine.Duration != "" {
		if _, err := time.ParseDuration(c.Engine.Duration); err != nil {
			problems = append(problems, fmt.Sprintf("engine.duration: %v", err))
		}
	}
	if len(c.Scenario.Assets) == 0 {
		problems = append(problems, "scenario.assets must not be empty")
	}
	if c.Scenario.Budget <= 0 {
		problems = append(problems, "scenario.budget must be positive")
	}
	if c.Scenario.Horizon <= 0 {
		problems = append(problems, "scenario.horizon must be positive")
	}
	if c.Scenario.RiskTolerance < 0 || c.Scenario.RiskTolerance > 1 {
		problems = append(problems, "scenario.risk_tolerance must be in [0,1]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
