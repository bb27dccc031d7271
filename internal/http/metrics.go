package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/waypoint/internal/http"

// unmatchedRoute labels requests that hit no registered route, so scanners
// probing random paths cannot grow label cardinality.
const unmatchedRoute = "unmatched"

// HTTPMetrics records per-route request metrics for the ops server.
type HTTPMetrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

// init creates the instruments. A failed instrument is logged and left nil;
// recording skips it.
func (m *HTTPMetrics) init() {
	var err error

	if m.requests, err = m.meter.Int64Counter("waypoint.http.requests_total",
		metric.WithDescription("Ops HTTP requests by method, route and status"),
		metric.WithUnit("{request}")); err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	if m.duration, err = m.meter.Float64Histogram("waypoint.http.request_duration_seconds",
		metric.WithDescription("Ops HTTP request latency by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5)); err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	if m.size, err = m.meter.Int64Histogram("waypoint.http.response_size_bytes",
		metric.WithDescription("Ops HTTP response body size"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 1024, 8192, 65536, 524288)); err != nil {
		m.logger.Warn("failed to create response size histogram", zap.Error(err))
	}

	if m.inFlight, err = m.meter.Int64UpDownCounter("waypoint.http.active_requests",
		metric.WithDescription("Ops HTTP requests currently being served"),
		metric.WithUnit("{request}")); err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// MetricsMiddleware records request count, latency, response size and
// in-flight requests.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			opt := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", responseStatus(c, err)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, opt)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), opt)
			}
			if m.size != nil {
				m.size.Record(ctx, c.Response().Size, opt)
			}
			return err
		}
	}
}

// routeLabel returns the matched route pattern, or unmatchedRoute when echo
// found none.
func routeLabel(path string) string {
	if path == "" || path == "/*" {
		return unmatchedRoute
	}
	return path
}

// responseStatus reports the status the client will see. A handler error has
// not been written yet when middleware observes it, so its code comes from
// the error.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
