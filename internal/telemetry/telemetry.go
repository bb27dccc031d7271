package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// stopFunc flushes and releases one provider.
type stopFunc struct {
	name string
	stop func(context.Context) error
}

// Telemetry holds the process's tracer and meter providers. A provider that
// fails to start is recorded as degraded and its signal falls through to the
// otel globals, which are no-ops unless something else installed them.
type Telemetry struct {
	cfg    *Config
	logger *zap.Logger

	tracing *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider

	mu      sync.Mutex
	failed  []string
	stops   []stopFunc
	stopped bool
}

func newTelemetry(cfg *Config, logger *zap.Logger) *Telemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telemetry{cfg: cfg, logger: logger}
}

// New starts the exporters described by cfg and installs them as the otel
// globals. Only an invalid cfg is an error.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := newTelemetry(cfg, logger)
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)
	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.degrade("traces", err)
	} else {
		t.useTracing(tp)
		otel.SetTracerProvider(tp)
	}
	if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
		t.degrade("metrics", err)
	} else {
		t.useMetrics(mp)
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.logger.Info("telemetry started",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol),
		zap.Strings("degraded", t.DegradedComponents()))
	return t, nil
}

func (t *Telemetry) useTracing(tp *sdktrace.TracerProvider) {
	t.tracing = tp
	t.stops = append(t.stops, stopFunc{name: "traces", stop: tp.Shutdown})
}

func (t *Telemetry) useMetrics(mp *sdkmetric.MeterProvider) {
	t.metrics = mp
	t.stops = append(t.stops, stopFunc{name: "metrics", stop: mp.Shutdown})
}

func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tracing == nil {
		return otel.Tracer(name, opts...)
	}
	return t.tracing.Tracer(name, opts...)
}

func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.metrics == nil {
		return otel.Meter(name, opts...)
	}
	return t.metrics.Meter(name, opts...)
}

// Enabled reports whether every configured signal is exporting.
func (t *Telemetry) Enabled() bool {
	if t == nil || !t.cfg.Enabled {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && len(t.failed) == 0
}

// Degraded reports whether any signal failed to start.
func (t *Telemetry) Degraded() bool {
	return len(t.DegradedComponents()) > 0
}

// DegradedComponents names the signals that failed to start.
func (t *Telemetry) DegradedComponents() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.failed...)
}

func (t *Telemetry) degrade(component string, err error) {
	t.mu.Lock()
	t.failed = append(t.failed, component)
	t.mu.Unlock()
	t.logger.Warn("telemetry degraded", zap.String("component", component), zap.Error(err))
}

// Shutdown flushes pending spans and metrics. Calls after the first return nil.
// Without a deadline on ctx the configured ShutdownTimeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	stops := t.stops
	t.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	for i := len(stops) - 1; i >= 0; i-- {
		if err := stops[i].stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", stops[i].name, err))
		}
	}
	return errors.Join(errs...)
}
