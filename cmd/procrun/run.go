package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/dshills/procedure-go/procedure"
	"github.com/dshills/procedure-go/procedure/cluster"
	"github.com/dshills/procedure-go/procedure/document"
	"github.com/dshills/procedure-go/procedure/emit"
	"github.com/dshills/procedure-go/procedure/report"
	"github.com/dshills/procedure-go/procedure/steps"
	"github.com/dshills/procedure-go/procedure/store"
)

const (
	exitDone    = 0
	exitFailed  = 1
	exitUsage   = 2
	sqliteFile  = "procedure.db"
	serviceName = "procrun"
)

type contextStore = store.Store[procedure.Context[steps.Project]]

// openStore opens the snapshot store selected by cfg.
func openStore(ctx context.Context, cfg Config) (contextStore, error) {
	switch cfg.Store {
	case storeSQLite:
		path := cfg.DSN
		if path == "" {
			path = filepath.Join(cfg.WorkDir, sqliteFile)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		return store.NewSQLiteStore[procedure.Context[steps.Project]](path)
	case storeMySQL:
		st, err := store.NewMySQLStore[procedure.Context[steps.Project]](cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	default:
		return store.NewFileStore[procedure.Context[steps.Project]](cfg.WorkDir)
	}
}

// serveMetrics exposes registry on addr until the returned stop is called.
func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// newTracerProvider writes spans to path as JSON.
func newTracerProvider(path string) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create trace file: %w", err)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f), stdouttrace.WithPrettyPrint())
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(semconv.ServiceName(serviceName))),
	)
	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), f.Close())
	}
	return tp, shutdown, nil
}

// runProcedure executes cfg.Doc and returns the process exit code.
func runProcedure(ctx context.Context, cfg Config, stdout, stderr io.Writer) int {
	level, _ := parseLogLevel(cfg.Log.Level)
	format, _ := parseLogFormat(cfg.Log.Format)
	logger := newLogger(stderr, level, format)

	opts, err := cfg.options()
	if err != nil {
		logger.Error("invalid options", "error", err)
		return exitUsage
	}

	doc, err := document.ParseFile(cfg.Doc)
	if err != nil {
		logger.Error("cannot load procedure", "error", err)
		return exitFailed
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		logger.Error("cannot create working directory", "error", err)
		return exitFailed
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("cannot open store", "store", cfg.Store, "error", err)
		return exitFailed
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	metrics := procedure.NewPrometheusMetrics(registry)
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer stop()
	}

	emitters := emit.Multi{emit.NewSlogEmitter(logger)}
	if cfg.TraceFile != "" {
		tp, shutdown, err := newTracerProvider(cfg.TraceFile)
		if err != nil {
			logger.Error("cannot set up tracing", "error", err)
			return exitFailed
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("trace shutdown", "error", err)
			}
		}()
		otelEmitter := emit.NewOTelEmitter(tp.Tracer(serviceName))
		defer otelEmitter.Close()
		emitters = append(emitters, otelEmitter)
	}

	if cfg.EventsFile != "" {
		f, err := os.OpenFile(cfg.EventsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Error("cannot open events file", "error", err)
			return exitFailed
		}
		defer f.Close()
		emitters = append(emitters, emit.NewLogEmitter(f, true))
	}

	stepsCfg := steps.Config{ProductsDir: cfg.ProductsDir}
	if stepsCfg.ProductsDir == "" {
		stepsCfg.ProductsDir = filepath.Join(cfg.WorkDir, "products")
	}
	if cfg.Workers > 0 {
		pool := cluster.NewLocalPool(cfg.Workers)
		lifecycle := cluster.NewLifecycle(pool, cfg.KeepWorkers)
		defer func() {
			if err := lifecycle.Teardown(context.Background()); err != nil {
				logger.Warn("worker pool teardown", "error", err)
			}
		}()
		timeout, _ := cfg.readyTimeout()
		if err := lifecycle.Start(ctx, timeout); err != nil {
			logger.Error("worker pool did not start", "error", err)
			return exitFailed
		}
		logger.Info("worker pool ready", "workers", pool.Workers())
		stepsCfg.Runner = pool
	}

	reg, err := steps.NewRegistry(stepsCfg)
	if err != nil {
		logger.Error("cannot register steps", "error", err)
		return exitFailed
	}

	engine, err := procedure.New[steps.Project](reg, st, opts,
		procedure.WithEmitter(emitters),
		procedure.WithMetrics(metrics),
		procedure.WithReporter(report.NewFileReporter(cfg.WorkDir, stepsCfg.ProductsDir)),
	)
	if err != nil {
		logger.Error("invalid engine configuration", "error", err)
		return exitUsage
	}

	initial := steps.Project{Title: doc.Title, ProjectCode: doc.Project}
	outcome, err := engine.Run(ctx, doc, initial)
	if outcome != nil {
		printOutcome(stdout, outcome)
	}
	if err != nil {
		var engineErr *procedure.EngineError
		if errors.As(err, &engineErr) {
			logger.Error("invalid run configuration", "code", engineErr.Code, "error", engineErr.Message)
			return exitUsage
		}
		logger.Error("procedure failed", "error", err)
		return exitFailed
	}
	return exitDone
}

func printOutcome(w io.Writer, outcome *procedure.Outcome[steps.Project]) {
	c := outcome.Context
	fmt.Fprintf(w, "status: %s (%s)\n", outcome.Status, outcome.Reason)
	fmt.Fprintf(w, "context: %s\n", c.Name)
	fmt.Fprintf(w, "run: %s\n", c.RunID)
	fmt.Fprintf(w, "stage: %d\n", c.Stage)
	if len(outcome.Dispatched) > 0 {
		fmt.Fprintf(w, "dispatched: %d step(s)\n", len(outcome.Dispatched))
	}
}
