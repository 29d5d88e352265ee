package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	validSubsets         = []string{"XS", "S", "M", "L", "XL"}
	validInputStrategies = []string{"AudioSamples", "PrecomputedFeatures"}
	validDrivers         = []string{"", "mysql", "sqlite"}
	validLogFormats      = []string{"auto", "console", "json"}
	validBackends        = []string{"file", "db"}
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	d := c.Data
	if strings.TrimSpace(d.ManifestDir) == "" {
		add("data.manifest_dir must be set")
	}
	if d.MaxDuration <= 0 {
		add("data.max_duration must be positive, got %d", d.MaxDuration)
	}
	if d.BucketingSampler && d.NumBuckets <= 0 {
		add("data.num_buckets must be positive, got %d", d.NumBuckets)
	}
	if !slices.Contains(validInputStrategies, d.InputStrategy) {
		add("data.input_strategy must be one of %v, got %q", validInputStrategies, d.InputStrategy)
	}
	if !slices.Contains(validSubsets, d.Subset) {
		add("data.subset must be one of %v, got %q", validSubsets, d.Subset)
	}

	if !slices.Contains(validDrivers, c.Database.Driver) {
		add("database.driver must be mysql or sqlite, got %q", c.Database.Driver)
	}
	if !slices.Contains(validLogFormats, c.Logging.Format) {
		add("logging.format must be one of %v, got %q", validLogFormats, c.Logging.Format)
	}
	if !slices.Contains(validBackends, c.Checkpoint.Backend) {
		add("checkpoint.backend must be one of %v, got %q", validBackends, c.Checkpoint.Backend)
	}
	if c.Checkpoint.Backend == "file" && strings.TrimSpace(c.Checkpoint.Dir) == "" {
		add("checkpoint.dir must be set for the file backend")
	}
	if c.Checkpoint.Backend == "db" && c.Database.Driver == "" {
		add("checkpoint.backend db needs database.driver")
	}
	if c.Workers.Count <= 0 {
		add("workers.count must be positive, got %d", c.Workers.Count)
	}

	return errors.Join(errs...)
}
