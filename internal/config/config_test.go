package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.BusURL != DefaultBusURL || cfg.DefaultQueueCapacity != DefaultQueueCapacity || cfg.CloseTimeout != DefaultCloseTimeout {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.yaml")
	body := "bus_url: redis://localhost:6379/0\nclose_timeout: 250ms\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BusURL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected bus url %q", cfg.BusURL)
	}
	if cfg.CloseTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected close timeout %v", cfg.CloseTimeout)
	}
	if cfg.DefaultQueueCapacity != DefaultQueueCapacity {
		t.Fatalf("missing keys should keep defaults, got %d", cfg.DefaultQueueCapacity)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("default_queue_capacity: [1, 2]\n"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for a malformed file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	if got := Default().ApplyEnv(lookup).BusURL; got != DefaultBusURL {
		t.Fatalf("expected default url, got %q", got)
	}
	env[EnvNATSURL] = "nats://demo.nats.io:4222"
	if got := Default().ApplyEnv(lookup).BusURL; got != "nats://demo.nats.io:4222" {
		t.Fatalf("NATS_URL not applied, got %q", got)
	}
	env[EnvBusURL] = "mem://"
	if got := Default().ApplyEnv(lookup).BusURL; got != "mem://" {
		t.Fatalf("BUS_URL should win, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	bad := []Config{
		{BusURL: "", DefaultQueueCapacity: 1},
		{BusURL: "mem://", DefaultQueueCapacity: 0},
		{BusURL: "mem://", DefaultQueueCapacity: 1, CloseTimeout: -time.Second},
	}
	for _, cfg := range bad {
		if err := cfg.Validate(); !errors.Is(err, errors.NotValid) {
			t.Fatalf("expected NotValid for %+v, got %v", cfg, err)
		}
	}
}
