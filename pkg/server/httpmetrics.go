package server

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// httpMeterScope names the instrumentation scope for API request metrics.
const httpMeterScope = "relay/server/http"

// httpMetrics instruments the API surface through the OTel meter.
// Business metrics (runs, stages, validation) are Prometheus-native in
// metrics.go; these request-level series ride the OTLP pipeline so they
// land next to the traces.
type httpMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	active   metric.Int64UpDownCounter
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	var (
		m    httpMetrics
		errs []error
		err  error
	)

	m.requests, err = meter.Int64Counter("relay.http.requests",
		metric.WithDescription("Completed HTTP requests by method, route, and status code"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	m.duration, err = meter.Float64Histogram("relay.http.request.duration",
		metric.WithDescription("HTTP request duration by method, route, and status code"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	errs = append(errs, err)

	m.size, err = meter.Int64Histogram("relay.http.response.size",
		metric.WithDescription("HTTP response body size by method, route, and status code"),
		metric.WithUnit("By"))
	errs = append(errs, err)

	m.active, err = meter.Int64UpDownCounter("relay.http.active",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// middleware records one observation per request. The echo route
// pattern keeps attribute cardinality bounded: /v1/runs/:id, not every
// concrete run ID.
func (m *httpMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			m.active.Add(ctx, 1)
			start := time.Now()

			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unrouted"
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.Int("status", c.Response().Status),
			)
			m.requests.Add(ctx, 1, attrs)
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			m.size.Record(ctx, c.Response().Size, attrs)
			m.active.Add(ctx, -1)
			return err
		}
	}
}
