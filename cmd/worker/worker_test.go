package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unclebandit/outreach-scheduler/internal/queue"
)

func TestLogDeliveryWithDedupe(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handle := queue.Dedupe(100, logDelivery(zap.New(core)))

	msg := queue.Message{
		Topic:          "drip.email",
		IdempotencyKey: "k-1",
		Body:           []byte(`{"tenant_id":"acme","assignment_id":42,"to":"ada@example.com"}`),
	}
	require.NoError(t, handle(msg))
	require.NoError(t, handle(msg))

	delivered := logs.FilterMessage("delivered").All()
	require.Len(t, delivered, 1)
	assert.Equal(t, "acme", delivered[0].ContextMap()["tenant_id"])
	assert.Equal(t, "k-1", delivered[0].ContextMap()["idempotency_key"])
}

func TestLogDeliveryDropsMalformedPayload(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	err := logDelivery(zap.New(core))(queue.Message{Topic: "drip.call", IdempotencyKey: "k-2", Body: []byte("not json")})
	assert.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("undecodable payload").Len())
}

func TestRootCommandFlags(t *testing.T) {
	for _, name := range []string{"once", "batch-size", "interval"} {
		assert.NotNil(t, rootCmd.Flags().Lookup(name), name)
	}
	sub, _, err := rootCmd.Find([]string{"deliver"})
	require.NoError(t, err)
	assert.Equal(t, "deliver", sub.Name())
}
