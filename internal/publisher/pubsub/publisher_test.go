package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

func TestNewMessageCarriesEventAttributes(t *testing.T) {
	t.Parallel()

	event := screenshot.CaptureEvent{
		ID:         "shot-1",
		URL:        "https://example.com",
		Resolution: screenshot.Resolution1920x1080,
		Hash:       "abc",
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	}
	msg, err := newMessage(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "shot-1", msg.Attributes["screenshot_id"])
	require.Equal(t, "1920x1080", msg.Attributes["resolution"])

	var decoded screenshot.CaptureEvent
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, event, decoded)
}

func TestNewMessageRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := newMessage(context.Background(), make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestCarrierRoundTripsTraceContext(t *testing.T) {
	t.Parallel()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	prop := propagation.TraceContext{}
	carrier := &pubsubCarrier{attrs: map[string]string{}}
	prop.Inject(ctx, carrier)
	require.Contains(t, carrier.Keys(), "traceparent")

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), carrier))
	require.Equal(t, traceID, extracted.TraceID())
	require.Equal(t, spanID, extracted.SpanID())
}

func TestPublishRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "topic", "x")
	require.Error(t, err)
	require.NoError(t, (&Publisher{}).Close())
}

func TestDialValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), Config{Topic: "t"})
	require.ErrorContains(t, err, "project_id")
	_, err = Dial(context.Background(), Config{ProjectID: "p"})
	require.ErrorContains(t, err, "topic")
}
