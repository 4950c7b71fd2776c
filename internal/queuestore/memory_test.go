package queuestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendThenReadReturnsMessage(t *testing.T) {
	a := NewMemoryAdapter()
	ctx := context.Background()
	require.NoError(t, a.CreateQueue(ctx, "social"))

	id, err := a.Send(ctx, "social", "work-1", 0, 0)
	require.NoError(t, err)

	msg, err := a.Read(ctx, "social", 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "work-1", msg.Payload)
	assert.Equal(t, 1, msg.ReadCount)
}

func TestReadHonorsVisibilityTimeout(t *testing.T) {
	a := NewMemoryAdapter()
	ctx := context.Background()
	_, err := a.Send(ctx, "q", "payload", 0, 0)
	require.NoError(t, err)

	msg1, err := a.Read(ctx, "q", 30*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg1)

	// Immediately re-reading must not return the same message.
	msg2, err := a.Read(ctx, "q", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg2)

	time.Sleep(40 * time.Millisecond)
	msg3, err := a.Read(ctx, "q", 30*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg3)
	assert.Equal(t, msg1.ID, msg3.ID)
}

func TestReadOrdersByPriorityThenEnqueueTime(t *testing.T) {
	a := NewMemoryAdapter()
	ctx := context.Background()

	lowOld, err := a.Send(ctx, "q", "low-old", 1, 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	highNew, err := a.Send(ctx, "q", "high-new", 5, 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	lowNew, err := a.Send(ctx, "q", "low-new", 1, 0)
	require.NoError(t, err)

	first, err := a.Read(ctx, "q", time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, highNew, first.ID, "highest priority claims first regardless of age")

	second, err := a.Read(ctx, "q", time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, lowOld, second.ID, "within a priority tier, oldest enqueued wins")

	third, err := a.Read(ctx, "q", time.Second)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, lowNew, third.ID)
}

func TestArchiveIsIdempotentNoOp(t *testing.T) {
	a := NewMemoryAdapter()
	ctx := context.Background()
	id, err := a.Send(ctx, "q", "payload", 0, 0)
	require.NoError(t, err)
	_, err = a.Read(ctx, "q", time.Second)
	require.NoError(t, err)

	require.NoError(t, a.Archive(ctx, "q", id))
	require.NoError(t, a.Archive(ctx, "q", id))

	msg, err := a.Read(ctx, "q", time.Second)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestSubscribeSignalsOnSend(t *testing.T) {
	a := NewMemoryAdapter()
	ctx := context.Background()
	require.NoError(t, a.CreateQueue(ctx, "q"))
	ch, unsubscribe := a.Subscribe("q")
	defer unsubscribe()

	_, err := a.Send(ctx, "q", "payload", 0, 0)
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a signal after send")
	}
}
