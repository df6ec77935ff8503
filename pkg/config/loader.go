package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of the core's static configuration: one limiter
// per provider, one breaker/retry/queue tuple shared by the executor stack,
// and the set of endpoints the caller's Model façades bind to.
type File struct {
	Limiters  map[string]Limiter `yaml:"limiters"`
	Breaker   Breaker            `yaml:"breaker"`
	Retry     Retry              `yaml:"retry"`
	Queue     Queue              `yaml:"queue"`
	Endpoints map[string]Endpoint `yaml:"endpoints"`
}

// Load reads and validates a YAML configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &f, nil
}

// Validate checks every limiter, the shared breaker/retry/queue, and every
// endpoint. It stops at the first invalid entry rather than aggregating,
// matching the "fail immediately" construction contract of each component.
func (f *File) Validate() error {
	for name, l := range f.Limiters {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("limiter %q: %w", name, err)
		}
	}
	if err := f.Breaker.Validate(); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}
	if err := f.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := f.Queue.Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	for name, e := range f.Endpoints {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("endpoint %q: %w", name, err)
		}
	}
	return nil
}
