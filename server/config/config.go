// Package config is the YAML configuration of a mining run
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cyclopcam/hardmine/pkg/dbh"
	"github.com/cyclopcam/hardmine/server/bootstrap"
	"github.com/cyclopcam/hardmine/server/groundtruth"
	"gopkg.in/yaml.v3"
)

type GroundTruth struct {
	Dir     string              `yaml:"dir"`     // Annotation directory. If empty, annotations are next to their images.
	Scale   float32             `yaml:"scale"`   // Factor from annotation coordinates to image coordinates
	Filters groundtruth.Filters `yaml:"filters"` // Cleaning filters
}

type Dataset struct {
	Dir  string `yaml:"dir"`  // Output directory. If empty, no dataset is written.
	Name string `yaml:"name"` // Prefix of the dataset files
}

type Config struct {
	Model         string           `yaml:"model"`         // Path to the detector model JSON
	Threads       int              `yaml:"threads"`       // Number of detection workers
	StopTimeout   time.Duration    `yaml:"stopTimeout"`   // How long to wait for a worker to stop, before abandoning it
	MaxImageWidth int              `yaml:"maxImageWidth"` // Wider images are downsized on load. Zero means no limit.
	Bootstrap     bootstrap.Config `yaml:"bootstrap"`
	GroundTruth   GroundTruth      `yaml:"groundTruth"`
	Dataset       Dataset          `yaml:"dataset"`
	Catalog       *dbh.DBConfig    `yaml:"catalog"` // Optional database of runs and samples
}

func DefaultConfig() *Config {
	return &Config{
		Threads:     2,
		StopTimeout: 5 * time.Second,
		Bootstrap:   bootstrap.DefaultConfig(),
		GroundTruth: GroundTruth{
			Scale: 1,
		},
		Dataset: Dataset{
			Name: "bootstrap",
		},
	}
}

// LoadConfig reads a YAML (or JSON) file on top of the defaults
func LoadConfig(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error decoding %v: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, not %v", c.Threads)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stopTimeout must be positive, not %v", c.StopTimeout)
	}
	if c.GroundTruth.Scale <= 0 {
		return fmt.Errorf("groundTruth.scale must be positive, not %v", c.GroundTruth.Scale)
	}
	b := &c.Bootstrap
	for _, r := range []struct {
		name string
		v    float32
	}{
		{"matching", b.Matching},
		{"minOverlap", b.MinOverlap},
		{"threshold", b.Threshold},
		{"negMatching", b.NegMatching},
	} {
		if r.v < 0 || r.v > 1 {
			return fmt.Errorf("bootstrap.%v must be between 0 and 1, not %v", r.name, r.v)
		}
	}
	if b.MinContext <= 0 {
		return fmt.Errorf("bootstrap.minContext must be positive, not %v", b.MinContext)
	}
	if b.Widen < 0 || b.MaxNegatives < 0 {
		return fmt.Errorf("bootstrap.widen and bootstrap.maxNegatives may not be negative")
	}
	return nil
}

// YAML returns the config as it would be saved
func (c *Config) YAML() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}
