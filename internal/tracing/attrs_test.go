package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abc", TruncateString("abcdef", 3))
	assert.Equal(t, "ab...ij", TruncateString("abcdefghij", 7))
	assert.Len(t, SafeRedisKey(strings.Repeat("k", 300)), maxKeyLength-1)
}

func TestMaskName(t *testing.T) {
	assert.Equal(t, "", MaskName(""))
	assert.Equal(t, "A", MaskName("A"))
	assert.Equal(t, "J*", MaskName("Jo"))
	assert.Equal(t, "J******e", MaskName("Jane Doe"))
	assert.Equal(t, "张*", MaskName("张三"))
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(span, errors.New("boom"), ErrorTypeDB, attribute.String("collection", "candidates"))
	RecordError(span, nil, ErrorTypeDB)
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, "db", attrs["error.type"])
	assert.Equal(t, "boom", attrs["error.message"])
	assert.Equal(t, "candidates", attrs["collection"])
	assert.Len(t, spans[0].Events(), 1)
}
