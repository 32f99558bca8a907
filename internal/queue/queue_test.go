package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueSuppressesDuplicateKeys(t *testing.T) {
	q := NewInMemoryQueue(nil)
	delivered := 0
	q.Subscribe("drip.email", func(Message) error {
		delivered++
		return nil
	})

	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, "drip.email", "key-1", []byte(`{"to":"a@b.c"}`)))
	require.NoError(t, q.Publish(ctx, "drip.email", "key-1", []byte(`{"to":"a@b.c"}`)))
	require.NoError(t, q.Publish(ctx, "drip.email", "key-2", []byte(`{"to":"d@e.f"}`)))

	assert.Equal(t, 2, delivered)
	assert.Len(t, q.Messages("drip.email"), 2)
	assert.Empty(t, q.Messages("drip.call"))
}

func TestInMemoryQueueFailedDeliveryCanBeRetried(t *testing.T) {
	q := NewInMemoryQueue(nil)
	fail := true
	q.Subscribe("drip.call", func(Message) error {
		if fail {
			return errors.New("dialer unavailable")
		}
		return nil
	})

	ctx := context.Background()
	assert.Error(t, q.Publish(ctx, "drip.call", "key-1", nil))
	assert.Empty(t, q.Messages("drip.call"))

	fail = false
	assert.NoError(t, q.Publish(ctx, "drip.call", "key-1", nil))
	assert.Len(t, q.Messages("drip.call"), 1)
}

func TestInMemoryQueueHonoursCancelledContext(t *testing.T) {
	q := NewInMemoryQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, q.Publish(ctx, "drip.task", "key-1", nil), context.Canceled)
}

func TestDedupeSkipsRedeliveries(t *testing.T) {
	var handled []string
	fail := true
	h := Dedupe(2, func(m Message) error {
		if m.IdempotencyKey == "flaky" && fail {
			fail = false
			return errors.New("downstream busy")
		}
		handled = append(handled, m.IdempotencyKey)
		return nil
	})

	require.NoError(t, h(Message{IdempotencyKey: "a"}))
	require.NoError(t, h(Message{IdempotencyKey: "a"}))
	assert.Error(t, h(Message{IdempotencyKey: "flaky"}))
	require.NoError(t, h(Message{IdempotencyKey: "flaky"}))
	require.NoError(t, h(Message{IdempotencyKey: "b"}))

	// "a" fell out of the window of two keys
	require.NoError(t, h(Message{IdempotencyKey: "a"}))

	assert.Equal(t, []string{"a", "flaky", "b", "a"}, handled)
}
