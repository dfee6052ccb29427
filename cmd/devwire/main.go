// Package main is the devwire command line client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/devwire/internal/config"
	"github.com/dshills/devwire/internal/engine"
	"github.com/dshills/devwire/internal/logging"
	"github.com/dshills/devwire/internal/metrics"
	"github.com/dshills/devwire/internal/transport"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	ConfigPath  string
	URL         string
	LogLevel    string
	Target      string
	Session     string
	Method      string
	Params      string
	Tail        time.Duration
	MetricsAddr string
	Version     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if opts.Version {
		fmt.Fprintf(stdout, "devwire %s\n", version)
		fmt.Fprintf(stdout, "Commit: %s\n", commit)
		fmt.Fprintf(stdout, "Built: %s\n", date)
		return 0
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Timestamp: cfg.Logging.Timestamp,
		NoColor:   cfg.Logging.NoColor,
		Output:    stderr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, cfg, opts, logger, stdout); err != nil {
		logger.Error().Err(err).Msg("devwire failed")
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("devwire", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (.toml, .yaml)")
	fs.StringVar(&opts.URL, "url", "", "WebSocket endpoint, overrides transport.url")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&opts.Target, "target", "", "Attach to this target id before sending")
	fs.StringVar(&opts.Session, "session", "", "Session id to address (default: root or attached target)")
	fs.StringVar(&opts.Method, "method", "", "Command to send, e.g. Browser.getVersion")
	fs.StringVar(&opts.Params, "params", "{}", "Command params as a JSON object")
	fs.DurationVar(&opts.Tail, "tail", 0, "Print events for this long")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	fs.BoolVar(&opts.Version, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "devwire - multiplexing debugger protocol client\n\n")
		fmt.Fprintf(stderr, "Usage: devwire [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  devwire -url ws://127.0.0.1:9222/devtools/browser/ID -method Target.getTargets\n")
		fmt.Fprintf(stderr, "  devwire -target PAGE_ID -method Runtime.evaluate -params '{\"expression\":\"1+1\"}'\n")
		fmt.Fprintf(stderr, "  devwire -tail 30s\n")
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.LogLevel != "" {
		if _, ok := logging.ParseLevel(opts.LogLevel); !ok {
			return options{}, fmt.Errorf("invalid log level %q", opts.LogLevel)
		}
	}
	if opts.Tail < 0 {
		return options{}, fmt.Errorf("invalid tail %v", opts.Tail)
	}
	return opts, nil
}

func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.URL != "" {
		cfg.Transport.Kind = config.TransportWebSocket
		cfg.Transport.URL = opts.URL
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	return cfg, cfg.Validate()
}

func serve(ctx context.Context, cfg config.Config, opts options, logger zerolog.Logger, out io.Writer) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	tr, err := transport.Open(ctx, cfg.Transport)
	if err != nil {
		return err
	}
	eng := engine.New(tr,
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithLifecycle(engine.LifecycleFromConfig(cfg.Engine.Lifecycle)),
		engine.WithTombstoneLimit(cfg.Engine.TombstoneLimit),
	)
	defer eng.Close()
	logger.Info().Str("conn", eng.ID()).Str("transport", cfg.Transport.Kind).Msg("connected")

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return eng.Serve(gctx)
	})

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return runSession(gctx, eng, sessionOptions{
			Target:         opts.Target,
			Session:        opts.Session,
			Method:         opts.Method,
			Params:         opts.Params,
			Tail:           opts.Tail,
			RequestTimeout: cfg.Engine.RequestTimeout.Std(),
		}, out)
	})

	return g.Wait()
}
