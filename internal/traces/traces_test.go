package traces

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NoEndpointLeavesProviderAlone(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Init(context.Background(), Settings{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func record(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestStartSpan_RecordsAttributes(t *testing.T) {
	rec := record(t)

	owner := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	_, span := StartSpan(context.Background(), "engine.penalize",
		Operation("penalize"), AgentOwner(owner), Amount(18446744073709551615), Reputation(7))
	span.SetAttributes(Result("ok"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "engine.penalize", ended[0].Name())

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, map[string]string{
		"registry.operation": "penalize",
		"agent.owner":        owner.Hex(),
		"amount":             "18446744073709551615",
		"agent.reputation":   "7",
		"registry.result":    "ok",
	}, attrs)
}

func TestStartSpan_NestsUnderParent(t *testing.T) {
	rec := record(t)

	ctx, parent := StartSpan(context.Background(), "http")
	_, child := StartSpan(ctx, "engine.register", Caller(common.Address{1}))
	child.End()
	parent.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())
}
