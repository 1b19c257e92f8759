// Package config holds the typed tunables and data tables the scanning
// core needs. Loading a config file, watching it for changes, and picking
// which schedule to run on are a surrounding system's job; this package
// only defines the shape and sane compiled-in defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object for one scan invocation.
type Config struct {
	Scan      ScanConfig      `yaml:"scan"`
	Cache     CacheConfig     `yaml:"cache"`
	Beaconing BeaconingConfig `yaml:"beaconing"`
	Tables    Tables          `yaml:"tables"`
}

// ScanConfig tunes the probe framework's concurrency and timeouts.
type ScanConfig struct {
	MaxParallelism  int           `yaml:"max_parallelism"`
	PerProbeTimeout time.Duration `yaml:"per_probe_timeout"`
}

// CacheConfig tunes the code-signing validator's bounded cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// BeaconingConfig tunes the network behavior analyzer.
type BeaconingConfig struct {
	BucketCapacity int           `yaml:"bucket_capacity"`
	MaxBuckets     int           `yaml:"max_buckets"`
	CVThreshold    float64       `yaml:"cv_threshold"`
	MinInterval    time.Duration `yaml:"min_interval"`
	MaxInterval    time.Duration `yaml:"max_interval"`
	MinSampleCount int           `yaml:"min_sample_count"`
}

// Defaults returns a Config usable with no external file at all, matching
// every numeric and behavioral default spec.md names explicitly.
func Defaults() *Config {
	return &Config{
		Scan: ScanConfig{
			MaxParallelism:  runtime.NumCPU(),
			PerProbeTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			MaxEntries: 4096,
		},
		Beaconing: BeaconingConfig{
			BucketCapacity: 200,
			MaxBuckets:     500,
			CVThreshold:    0.3,
			MinInterval:    1 * time.Second,
			MaxInterval:    3600 * time.Second,
			MinSampleCount: 5,
		},
		Tables: defaultTables(),
	}
}

// Load reads and validates a YAML config document, overlaying it on
// Defaults(). Invalid config at load time is fatal to the caller (the
// caller decides what "fatal" means); reload-on-SIGHUP is explicitly not
// carried here since the core is a one-shot scanner, not a resident daemon.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants the scanning core relies on.
func (c *Config) Validate() error {
	if c.Scan.MaxParallelism <= 0 {
		return fmt.Errorf("scan.max_parallelism must be > 0")
	}
	if c.Beaconing.CVThreshold <= 0 {
		return fmt.Errorf("beaconing.cv_threshold must be > 0")
	}
	if c.Beaconing.MinSampleCount < 2 {
		return fmt.Errorf("beaconing.min_sample_count must be >= 2")
	}
	return nil
}
