package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	"subjectbus/internal/config"
	"subjectbus/internal/conn"
	"subjectbus/internal/diag"
	"subjectbus/internal/eventbus"
)

func memConfig() config.Config {
	cfg := config.Default()
	cfg.BusURL = "mem://"
	cfg.CloseTimeout = time.Second
	return cfg
}

func TestRunPrintsGreetings(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), memConfig(), runOptions{wait: time.Second}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "hello on subject greet.bob\nhello on subject greet.sue\nhello on subject greet.pam\n"
	if out.String() != want {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestRunMetrics(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), memConfig(), runOptions{wait: time.Second, metrics: true}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `pattern="greet.*"`) {
		t.Fatalf("expected subscription series in output:\n%s", out.String())
	}
}

func TestRunStoresSnapshot(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	var out bytes.Buffer
	opts := runOptions{wait: time.Second, diagRedis: "redis://" + s.Addr()}
	if err := run(context.Background(), memConfig(), opts, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	keys := s.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "subjectbus:diag:") {
		t.Fatalf("unexpected keys %v", keys)
	}

	store := diag.NewRedisStore(&redis.Options{Addr: s.Addr()}, nil)
	defer store.Close()
	snap, ver, err := store.Load(context.Background(), strings.TrimPrefix(keys[0], "subjectbus:diag:"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ver != 1 || len(snap.Subscriptions) != 1 || snap.Subscriptions[0].Pattern != "greet.*" {
		t.Fatalf("unexpected snapshot %d %+v", ver, snap)
	}
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := app
	a.Writer = &out
	a.ErrWriter = &out
	err := a.Run(append([]string{"greet"}, args...))
	return out.String(), err
}

func TestAppTakesURLFromEnvironment(t *testing.T) {
	t.Setenv(config.EnvBusURL, "mem://")
	t.Setenv(config.EnvNATSURL, "nats://127.0.0.1:1")
	out, err := runApp(t, "--wait", "1s", "--close-timeout", "1s")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "hello on subject greet.pam") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestAppURLFlagOverridesEnvironment(t *testing.T) {
	t.Setenv(config.EnvBusURL, "bogus://nowhere")
	out, err := runApp(t, "--url", "mem://", "--wait", "1s")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "hello on subject greet.bob") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	if _, err := runApp(t, "--wait", "1s"); !errors.Is(err, eventbus.ErrUnsupportedScheme) {
		t.Fatalf("expected the environment URL to be used, got %v", err)
	}
}

func TestAbortReturnsOriginalError(t *testing.T) {
	nc, err := conn.Connect(context.Background(), memConfig())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	cause := errors.New("publish failed")
	if got := abort(nc, cause); got != cause {
		t.Fatalf("expected %v, got %v", cause, got)
	}
	// A second close fails; abort logs it and still returns the cause.
	if got := abort(nc, cause); got != cause {
		t.Fatalf("expected %v, got %v", cause, got)
	}
}
