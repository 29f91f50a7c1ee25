package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func fieldMap(fields []zap.Field) map[string]zap.Field {
	m := make(map[string]zap.Field, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}
	return m
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
	assert.Empty(t, RunIDFromContext(context.Background()))
	assert.Empty(t, WorkflowFromContext(context.Background()))
	assert.Empty(t, StageFromContext(context.Background()))
}

func TestContextFields_TraceCorrelation(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ctx, span := provider.Tracer("test").Start(context.Background(), "launch-run")
	defer span.End()

	m := fieldMap(ContextFields(ctx))
	require.Contains(t, m, "trace_id")
	assert.Len(t, m["trace_id"].String, 32)
	require.Contains(t, m, "span_id")
	assert.Len(t, m["span_id"].String, 16)
	assert.Contains(t, m, "trace_sampled")
}

func TestContextFields_RunCorrelation(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-123")
	ctx = WithWorkflow(ctx, "factcheck")
	ctx = WithStage(ctx, "intermediate")

	m := fieldMap(ContextFields(ctx))
	assert.Equal(t, "run-123", m["run.id"].String)
	assert.Equal(t, "factcheck", m["workflow"].String)
	assert.Equal(t, "intermediate", m["stage"].String)

	assert.Equal(t, "run-123", RunIDFromContext(ctx))
	assert.Equal(t, "factcheck", WorkflowFromContext(ctx))
	assert.Equal(t, "intermediate", StageFromContext(ctx))
}

func TestCorrelationIDValidation(t *testing.T) {
	ctx := context.Background()

	assert.Panics(t, func() { WithRunID(ctx, "") })
	assert.Panics(t, func() { WithRunID(ctx, "has spaces") })
	assert.Panics(t, func() { WithRunID(ctx, strings.Repeat("a", maxIDLen+1)) })
	assert.Panics(t, func() { WithRunID(ctx, string([]byte{0xff, 0xfe})) })
	assert.Panics(t, func() { WithWorkflow(ctx, "bad/name") })
	assert.Panics(t, func() { WithStage(ctx, "läding") })

	assert.NotPanics(t, func() { WithRunID(ctx, "8f14e45f-ceea-4e67-b2a9-0c2b8d5a9e01") })
	assert.NotPanics(t, func() { WithWorkflow(ctx, "custom_workflow-2") })
	assert.NotPanics(t, func() { WithStage(ctx, "terminal") })
}

func TestFromContext_Fallback(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)

	// Nop logger must not panic.
	logger.Info(context.Background(), "ignored")
}

func TestFromContext_RoundTrip(t *testing.T) {
	logger := NewNop()
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
}
