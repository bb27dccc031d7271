package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*HTTPMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &HTTPMetrics{meter: mp.Meter(httpInstrumentationName), logger: zap.NewNop()}
	m.init()
	return m, reader
}

// requestCounts sums waypoint.http.requests_total by route and status.
func requestCounts(t *testing.T, reader *metric.ManualReader) map[string]map[int64]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]map[int64]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "waypoint.http.requests_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value(attribute.Key("route"))
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				if out[route.AsString()] == nil {
					out[route.AsString()] = map[int64]int64{}
				}
				out[route.AsString()][status.AsInt64()] += dp.Value
			}
		}
	}
	return out
}

func TestMetricsMiddleware_CountsByRouteAndStatus(t *testing.T) {
	m, reader := newTestMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/processes", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "registry offline")
	})

	for _, path := range []string{"/health", "/health", "/processes"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	counts := requestCounts(t, reader)
	assert.Equal(t, int64(2), counts["/health"][http.StatusOK])
	assert.Equal(t, int64(1), counts["/processes"][http.StatusServiceUnavailable])
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, unmatchedRoute, routeLabel(""))
	assert.Equal(t, unmatchedRoute, routeLabel("/*"))
	assert.Equal(t, "/processes", routeLabel("/processes"))
}
