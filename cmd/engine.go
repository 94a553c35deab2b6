package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/observ/internal/config"
	"github.com/zjrosen/observ/internal/history"
	"github.com/zjrosen/observ/internal/log"
	"github.com/zjrosen/observ/internal/metrics"
	"github.com/zjrosen/observ/internal/pubsub"
	"github.com/zjrosen/observ/internal/tracing"
)

// engine bundles what every Observable created by the CLI is wired to.
type engine struct {
	policy   pubsub.ErrorPolicy
	probe    pubsub.Probe
	tracer   trace.Tracer
	history  *history.Recorder
	metrics  *metrics.Collector
	provider *tracing.Provider
	server   *http.Server
	addr     string

	streamSize int
}

// newEngine builds probes and tracing from cfg. metricsAddr overrides
// cfg.Metrics.Addr and implies metrics are enabled.
func newEngine(cfg config.Config, metricsAddr string) (*engine, error) {
	policy, err := cfg.ErrorPolicy()
	if err != nil {
		return nil, err
	}
	e := &engine{policy: policy, streamSize: cfg.Stream.BufferSize}

	e.history = history.NewRecorder(cfg.History.TTL, cfg.History.CleanupInterval)
	pubsub.RegisterProbe("history", e.history)

	names := slices.Clone(cfg.Probes)
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	if cfg.Metrics.Enabled || metricsAddr != "" {
		e.metrics = metrics.NewCollector(cfg.Metrics.Namespace)
		pubsub.RegisterProbe("metrics", e.metrics)
		if !slices.Contains(names, "metrics") {
			names = append(names, "metrics")
		}
	}
	// The report reads from history, so it is always attached.
	if !slices.Contains(names, "history") {
		names = append(names, "history")
	}

	e.probe, err = pubsub.ResolveProbes(names)
	if err != nil {
		return nil, fmt.Errorf("resolving probes: %w", err)
	}

	e.provider, err = tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracer: %w", err)
	}
	e.tracer = e.provider.Tracer()

	if e.metrics != nil && metricsAddr != "" {
		if err := e.serveMetrics(metricsAddr); err != nil {
			_ = e.provider.Shutdown(context.Background())
			return nil, err
		}
	}

	log.Debug(log.CatConfig, "engine ready", "probes", names, "policy", policy.String(), "tracing", e.provider.Enabled())
	return e, nil
}

func (e *engine) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())
	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log.SafeGo("metrics.serve", func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr(log.CatMetrics, "metrics server stopped", err, "addr", addr)
		}
	})
	e.addr = ln.Addr().String()
	log.Info(log.CatMetrics, "serving metrics", "addr", e.addr)
	return nil
}

// listenAddr returns the metrics server address, empty when not serving.
func (e *engine) listenAddr() string { return e.addr }

// options returns the pubsub options for an Observable or Observer.
func (e *engine) options(id string) []pubsub.Option {
	return []pubsub.Option{
		pubsub.WithID(id),
		pubsub.WithTracer(e.tracer),
		pubsub.WithProbe(e.probe),
		pubsub.WithErrorPolicy(e.policy),
	}
}

// Close stops the metrics server and flushes traces.
func (e *engine) Close(ctx context.Context) error {
	var result *multierror.Error
	if e.server != nil {
		if err := e.server.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("stopping metrics server: %w", err))
		}
	}
	if e.provider != nil {
		if err := e.provider.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("flushing traces: %w", err))
		}
	}
	return result.ErrorOrNil()
}
