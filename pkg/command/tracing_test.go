package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mattsp1290/circuitry/pkg/cerrors"
)

func spanNames(stubs tracetest.SpanStubs) []string {
	names := make([]string, len(stubs))
	for i, s := range stubs {
		names[i] = s.Name
	}
	return names
}

func TestCommand_TracingRecordsSpansAndFailureType(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	boom := errors.New("boom")
	key := uniqueKey(t)
	cmd := NewBuilder(key, key).
		WithTracerProvider(tp).
		WithRun(func(ctx context.Context) (interface{}, error) { return nil, boom }).
		Build()

	_, err := cmd.Execute(context.Background())
	require.Error(t, err)

	require.NoError(t, tp.ForceFlush(context.Background()))
	stubs := exporter.GetSpans()

	names := spanNames(stubs)
	assert.Contains(t, names, "circuitry."+key+"."+key)
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "fallback")

	var top tracetest.SpanStub
	for _, s := range stubs {
		if s.Name == "circuitry."+key+"."+key {
			top = s
		}
	}
	require.NotEmpty(t, top.Name)

	var sawFailureType bool
	for _, kv := range top.Attributes {
		if string(kv.Key) == "circuitry.failure_type" {
			sawFailureType = true
			assert.Equal(t, cerrors.FailureCommandException.String(), kv.Value.AsString())
		}
	}
	assert.True(t, sawFailureType, "expected circuitry.failure_type attribute on a failed invocation's span")
}
