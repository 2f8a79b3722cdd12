package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"subjectbus/internal/core"
	"subjectbus/internal/subject"
)

func collect() (RouteFunc, chan core.Message) {
	ch := make(chan core.Message, 16)
	return func(m core.Message) { ch <- m }, ch
}

func expectMessage(t *testing.T, ch <-chan core.Message, subj string) core.Message {
	t.Helper()
	select {
	case got := <-ch:
		if got.Subject != subj {
			t.Fatalf("expected %s got %s", subj, got.Subject)
		}
		return got
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %s", subj)
	}
	return core.Message{}
}

func expectNothing(t *testing.T, ch <-chan core.Message) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected message %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisPublishWatch(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	ep := NewRedisEndpoint(&redis.Options{Addr: s.Addr()}, nil)
	defer ep.Close()
	route, ch := collect()
	ep.Listen(route)

	ctx := context.Background()
	if err := ep.Watch(ctx, "greet.*"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	msg := core.NewMessage("greet.joe", []byte("hello")).WithReply("_INBOX.1")
	if err := ep.Send(ctx, msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := expectMessage(t, ch, "greet.joe")
	if string(got.Data) != "hello" || got.Reply != "_INBOX.1" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestRedisOverlappingWatchesRouteOnce(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	ep := NewRedisEndpoint(&redis.Options{Addr: s.Addr()}, nil)
	defer ep.Close()
	route, ch := collect()
	ep.Listen(route)

	ctx := context.Background()
	for _, p := range []string{"greet.*", "greet.>", "greet.joe"} {
		if err := ep.Watch(ctx, p); err != nil {
			t.Fatalf("watch %s: %v", p, err)
		}
	}
	if err := ep.Send(ctx, core.NewMessage("greet.joe", nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectMessage(t, ch, "greet.joe")
	expectNothing(t, ch)
}

func TestRedisUnwatch(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	ep := NewRedisEndpoint(&redis.Options{Addr: s.Addr()}, nil)
	defer ep.Close()
	route, ch := collect()
	ep.Listen(route)

	ctx := context.Background()
	if err := ep.Watch(ctx, "greet.*"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := ep.Unwatch(ctx, "greet.*"); err != nil {
		t.Fatalf("unwatch: %v", err)
	}
	if err := ep.Unwatch(ctx, "never.watched"); err != nil {
		t.Fatalf("unwatch unknown: %v", err)
	}
	if err := ep.Send(ctx, core.NewMessage("greet.joe", nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectNothing(t, ch)
}

func TestRedisRawPayload(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	ep := NewRedisEndpoint(&redis.Options{Addr: s.Addr()}, nil)
	defer ep.Close()
	route, ch := collect()
	ep.Listen(route)
	if err := ep.Watch(context.Background(), "sensors.>"); err != nil {
		t.Fatalf("watch: %v", err)
	}

	// A publisher that knows nothing about envelopes.
	s.Publish("sensors.kitchen.temp", "21.5")
	got := expectMessage(t, ch, "sensors.kitchen.temp")
	if string(got.Data) != "21.5" {
		t.Fatalf("unexpected payload %q", got.Data)
	}
}

func TestRedisClosed(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	ep := NewRedisEndpoint(&redis.Options{Addr: s.Addr()}, nil)
	ctx := context.Background()
	if err := ep.Watch(ctx, "greet.*"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ep.Send(ctx, core.NewMessage("greet.joe", nil)); err != ErrEndpointClosed {
		t.Fatalf("expected ErrEndpointClosed, got %v", err)
	}
	if err := ep.Watch(ctx, "greet.*"); err != ErrEndpointClosed {
		t.Fatalf("expected ErrEndpointClosed, got %v", err)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestRedisGlob(t *testing.T) {
	cases := map[string]string{
		"greet.joe":   "greet.joe",
		"greet.*":     "greet.*",
		"greet.>":     "greet.*",
		"a.*.c.>":     "a.*.c.*",
		"odd.na?e":    `odd.na\?e`,
		"odd.[x]":     `odd.\[x\]`,
		`odd.back\sl`: `odd.back\\sl`,
	}
	for in, want := range cases {
		if got := redisGlob(subject.MustParsePattern(in)); got != want {
			t.Fatalf("redisGlob(%q) = %q, want %q", in, got, want)
		}
	}
}
