package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"subjectbus/internal/config"
	"subjectbus/internal/conn"
	"subjectbus/internal/core"
	"subjectbus/internal/diag"
	"subjectbus/internal/dispatch"
)

var logger = loggo.GetLogger("subjectbus.greet")

func main() {
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var app = cli.App{
	Name:  "greet",
	Usage: "Publish greetings and receive them through a wildcard subscription.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "url",
			Usage: "Bus URL (nats://, redis:// or mem://). Defaults to $BUS_URL, then $NATS_URL.",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML configuration file.",
		},
		&cli.DurationFlag{
			Name:  "close-timeout",
			Usage: "How long close waits for queued greetings.",
		},
		&cli.DurationFlag{
			Name:  "wait",
			Usage: "How long to wait for the greetings to arrive.",
			Value: 200 * time.Millisecond,
		},
		&cli.StringFlag{
			Name:  "log",
			Usage: "Logging configuration, e.g. <root>=DEBUG.",
		},
		&cli.StringFlag{
			Name:  "diag-redis",
			Usage: "Redis URL to store the final subscription table in.",
		},
		&cli.BoolFlag{
			Name:  "metrics",
			Usage: "Print subscription metrics before closing.",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if err := loggo.ConfigureLoggers(cfg.LogLevel); err != nil {
			return errors.Annotate(err, "configuring loggers")
		}
		return run(c.Context, cfg, runOptions{
			wait:      c.Duration("wait"),
			diagRedis: c.String("diag-redis"),
			metrics:   c.Bool("metrics"),
		}, c.App.Writer)
	},
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	cfg = cfg.ApplyEnv(nil)
	if url := c.String("url"); url != "" {
		cfg.BusURL = url
	}
	if c.IsSet("close-timeout") {
		cfg.CloseTimeout = c.Duration("close-timeout")
	}
	if lvl := c.String("log"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, cfg.Validate()
}

type runOptions struct {
	wait      time.Duration
	diagRedis string
	metrics   bool
}

var greetees = []string{"bob", "sue", "pam"}

func run(ctx context.Context, cfg config.Config, opts runOptions, out io.Writer) error {
	nc, err := conn.Connect(ctx, cfg)
	if err != nil {
		return errors.Annotatef(err, "connecting to %s", cfg.BusURL)
	}
	hello := []byte("hello")

	// Nobody is subscribed yet, so this one is never printed.
	if err := nc.Publish(ctx, "greet.joe", hello); err != nil {
		return abort(nc, err)
	}

	received := make(chan struct{}, len(greetees))
	sub, err := nc.Subscribe("greet.*", core.CallbackFunc(func(msg core.Message) {
		fmt.Fprintf(out, "%s on subject %s\n", msg.Data, msg.Subject)
		received <- struct{}{}
	}))
	if err != nil {
		return abort(nc, err)
	}
	logger.Debugf("subscribed %d to %s", sub.ID(), sub.Pattern())

	for _, name := range greetees {
		if err := nc.Publish(ctx, "greet."+name, hello); err != nil {
			return abort(nc, err)
		}
	}

	deadline := time.After(opts.wait)
wait:
	for n := 0; n < len(greetees); n++ {
		select {
		case <-received:
		case <-deadline:
			logger.Warningf("received %d of %d greetings", n, len(greetees))
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	if opts.metrics {
		if err := printMetrics(nc.Dispatcher(), out); err != nil {
			logger.Errorf("printing metrics: %v", err)
		}
	}
	if opts.diagRedis != "" {
		if err := saveSnapshot(ctx, nc, opts.diagRedis); err != nil {
			logger.Errorf("saving snapshot: %v", err)
		}
	}
	return nc.Close(cfg.CloseTimeout)
}

// abort closes nc without draining and returns err.
func abort(nc *conn.Connection, err error) error {
	if closeErr := nc.Close(0); closeErr != nil {
		logger.Warningf("closing after error: %v", closeErr)
	}
	return err
}

func printMetrics(d *dispatch.Dispatcher, out io.Writer) error {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(dispatch.NewCollector(d, prometheus.Labels{"app": "greet"})); err != nil {
		return errors.Trace(err)
	}
	families, err := reg.Gather()
	if err != nil {
		return errors.Trace(err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func saveSnapshot(ctx context.Context, nc *conn.Connection, rawURL string) error {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return errors.Annotatef(err, "parsing %s", rawURL)
	}
	store := diag.NewRedisStore(opts, nil)
	defer store.Close()

	snap := diag.Snapshot{
		Connection:    nc.ID(),
		Taken:         time.Now().UTC(),
		Subscriptions: nc.Stats(),
		Totals:        nc.Dispatcher().Counters(),
	}
	ver, err := store.Save(ctx, snap, time.Hour)
	if err != nil {
		return err
	}
	logger.Infof("stored snapshot %d of %s", ver, snap.Connection)
	return nil
}
