// Package config holds the options a connection is built from.
//
// Values come from Default, optionally overlaid by a YAML file (Load) and
// then by the environment (ApplyEnv).
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBusURL is used when nothing else names a bus.
	DefaultBusURL = "nats://127.0.0.1:4222"
	// DefaultQueueCapacity bounds each subscription queue.
	DefaultQueueCapacity = 1024
	// DefaultCloseTimeout bounds the drain on close.
	DefaultCloseTimeout = 5 * time.Second

	// EnvBusURL overrides the bus URL.
	EnvBusURL = "BUS_URL"
	// EnvNATSURL is honoured when EnvBusURL is unset.
	EnvNATSURL = "NATS_URL"
)

// Config is the recognised option set.
type Config struct {
	// BusURL selects the transport and its address.
	BusURL string `yaml:"bus_url"`
	// DefaultQueueCapacity bounds subscriptions that do not set their own.
	DefaultQueueCapacity int `yaml:"default_queue_capacity"`
	// CloseTimeout is the longest Close waits for subscriptions to drain.
	// Zero discards pending messages.
	CloseTimeout time.Duration `yaml:"close_timeout"`
	// LogLevel is a loggo logger configuration such as "<root>=INFO".
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BusURL:               DefaultBusURL,
		DefaultQueueCapacity: DefaultQueueCapacity,
		CloseTimeout:         DefaultCloseTimeout,
		LogLevel:             "<root>=WARNING",
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Annotatef(err, "parsing config %s", path)
	}
	return cfg, nil
}

// ApplyEnv overrides the bus URL from the environment.
func (c Config) ApplyEnv(lookup func(string) (string, bool)) Config {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvBusURL); ok && v != "" {
		c.BusURL = v
	} else if v, ok := lookup(EnvNATSURL); ok && v != "" {
		c.BusURL = v
	}
	return c
}

// Validate checks the values are usable.
func (c Config) Validate() error {
	if c.BusURL == "" {
		return errors.NotValidf("empty bus_url")
	}
	if c.DefaultQueueCapacity <= 0 {
		return errors.NotValidf("default_queue_capacity %d", c.DefaultQueueCapacity)
	}
	if c.CloseTimeout < 0 {
		return errors.NotValidf("negative close_timeout %v", c.CloseTimeout)
	}
	return nil
}
