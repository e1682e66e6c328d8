package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openEndpoint(t *testing.T, q *Memory, identity string) Transport {
	t.Helper()
	tr, err := q.Open(context.Background(), identity)
	require.NoError(t, err)
	return tr
}

func TestMemory_SendThenReceive(t *testing.T) {
	q := NewMemory()
	alice := openEndpoint(t, q, "alice")
	bob := openEndpoint(t, q, "bob")

	id, err := alice.Send(context.Background(), "alice: hi | to: bob")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	batch, err := bob.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, id, batch[0].ID)
	assert.Equal(t, "alice: hi | to: bob", batch[0].Envelope)

	// Every reader sees the shared queue, including the author.
	batch, err = alice.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestMemory_ReceiveEmptyReturnsAfterWait(t *testing.T) {
	q := NewMemory()
	reader := openEndpoint(t, q, "alice")

	start := time.Now()
	batch, err := reader.Receive(context.Background(), 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemory_LongPollWakesOnPublish(t *testing.T) {
	q := NewMemory()
	reader := openEndpoint(t, q, "bob")
	writer := openEndpoint(t, q, "alice")

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = writer.Send(context.Background(), "alice: late | to: bob")
	}()

	batch, err := reader.Receive(context.Background(), 10, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "alice: late | to: bob", batch[0].Envelope)
}

func TestMemory_MaxMessages(t *testing.T) {
	q := NewMemory()
	writer := openEndpoint(t, q, "alice")
	for i := 0; i < 5; i++ {
		_, err := writer.Send(context.Background(), "alice: x | to: bob")
		require.NoError(t, err)
	}

	reader := openEndpoint(t, q, "bob")
	batch, err := reader.Receive(context.Background(), 3, time.Second)
	require.NoError(t, err)
	assert.Len(t, batch, 3)

	batch, err = reader.Receive(context.Background(), 3, time.Second)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, 5, q.Len())
}

func TestMemory_Redeliver(t *testing.T) {
	q := NewMemory()
	q.Redeliver = true
	writer := openEndpoint(t, q, "alice")
	_, err := writer.Send(context.Background(), "alice: again | to: bob")
	require.NoError(t, err)

	reader := openEndpoint(t, q, "bob")
	first, err := reader.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	second, err := reader.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMemory_ReceiveCancelled(t *testing.T) {
	q := NewMemory()
	reader := openEndpoint(t, q, "bob")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reader.Receive(ctx, 10, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("send", nil))

	cause := errors.New("boom")
	err := Wrap("send", cause)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "transport send failed: boom", err.Error())

	// Already wrapped errors are not wrapped twice.
	assert.Same(t, err, Wrap("receive", err))
}
