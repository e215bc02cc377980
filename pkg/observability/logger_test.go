package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"WARN":    logrus.WarnLevel,
		" error ": logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), "input %q", input)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", "json", &buf)

	logger.WithField("event_id", "evt_1").Info("claimed")
	logger.Debug("hidden")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "claimed", line["msg"])
	assert.Equal(t, "evt_1", line["event_id"])
}

func TestFromContext(t *testing.T) {
	base, hook := test.NewNullLogger()

	t.Run("fallback with request id", func(t *testing.T) {
		hook.Reset()
		ctx := WithRequestID(context.Background(), "req-1")
		FromContext(ctx, base).Info("hello")

		require.Len(t, hook.Entries, 1)
		assert.Equal(t, "req-1", hook.LastEntry().Data["request_id"])
	})

	t.Run("context logger wins", func(t *testing.T) {
		hook.Reset()
		ctx := WithLogger(context.Background(), base.WithField("component", "processor"))
		FromContext(ctx, logrus.New()).Info("hello")

		require.Len(t, hook.Entries, 1)
		assert.Equal(t, "processor", hook.LastEntry().Data["component"])
	})

	t.Run("trace fields from recording span", func(t *testing.T) {
		hook.Reset()
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()

		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		FromContext(ctx, base).Info("traced")
		entry := hook.LastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, span.SpanContext().TraceID().String(), entry.Data["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), entry.Data["span_id"])
	})
}
