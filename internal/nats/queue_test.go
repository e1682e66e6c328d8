package nats

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/queuechat/internal/transport"
	"github.com/capitalize-ai/queuechat/pkg/logger"
)

func runJetStream(t *testing.T) *Client {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = server.RANDOM_PORT
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), Config{URL: srv.ClientURL(), Name: "test"}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	client := runJetStream(t)
	q := NewQueue(client.JetStream(), QueueConfig{}, logger.NewNop())
	require.NoError(t, q.EnsureStream(context.Background()))
	return q
}

func TestQueue_EnsureStreamIsIdempotent(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.EnsureStream(context.Background()))
}

func TestQueue_SendAndReceive(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	alice, err := q.Open(ctx, "alice")
	require.NoError(t, err)

	id1, err := alice.Send(ctx, "alice: hi | to: bob")
	require.NoError(t, err)
	id2, err := alice.Send(ctx, "alice: there | to: bob")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	bob, err := q.Open(ctx, "bob")
	require.NoError(t, err)

	got, err := bob.Receive(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, id1, got[0].ID)
	assert.Equal(t, "alice: hi | to: bob", got[0].Envelope)
	assert.Equal(t, id2, got[1].ID)
}

func TestQueue_EveryViewSeesEveryEnvelope(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	a, err := q.Open(ctx, "alice")
	require.NoError(t, err)
	b, err := q.Open(ctx, "bob")
	require.NoError(t, err)

	_, err = a.Send(ctx, "alice: hi | to: bob")
	require.NoError(t, err)

	fromA, err := a.Receive(ctx, 10, time.Second)
	require.NoError(t, err)
	fromB, err := b.Receive(ctx, 10, time.Second)
	require.NoError(t, err)

	require.Len(t, fromA, 1)
	require.Len(t, fromB, 1)
	assert.Equal(t, fromA[0].ID, fromB[0].ID)
}

func TestQueue_ReceiveRespectsMaxMessages(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	view, err := q.Open(ctx, "alice")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := view.Send(ctx, "alice: x | to: bob")
		require.NoError(t, err)
	}

	first, err := view.Receive(ctx, 3, time.Second)
	require.NoError(t, err)
	assert.Len(t, first, 3)

	rest, err := view.Receive(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestQueue_EmptyReceiveReturnsWithinWait(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	view, err := q.Open(ctx, "alice")
	require.NoError(t, err)

	start := time.Now()
	got, err := view.Receive(ctx, 10, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueue_CanceledContextIsTransportError(t *testing.T) {
	q := newTestQueue(t)

	view, err := q.Open(context.Background(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = view.Receive(ctx, 10, time.Second)
	assert.ErrorIs(t, err, transport.ErrTransport)
}

func TestQueue_Close(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	view, err := q.Open(ctx, "alice")
	require.NoError(t, err)

	closer, ok := view.(transport.Closer)
	require.True(t, ok)
	require.NoError(t, closer.Close(ctx))
	// Already gone.
	require.NoError(t, closer.Close(ctx))
}

func TestImageStore_UploadAndGet(t *testing.T) {
	ctx := context.Background()
	client := runJetStream(t)

	store, err := OpenImageStore(ctx, client.JetStream(), ImageStoreConfig{BaseURL: "https://chat.example.com/"}, logger.NewNop())
	require.NoError(t, err)

	at := time.UnixMilli(1700000000123)
	blob := []byte("\x89PNG\r\n\x1a\nfake")

	link, err := store.Upload(ctx, "alice", at, blob)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/images/alice-1700000000123", link)
	assert.True(t, strings.HasPrefix(link, "https://"))

	data, contentType, err := store.Get(ctx, "alice-1700000000123")
	require.NoError(t, err)
	assert.Equal(t, blob, data)
	assert.Equal(t, "image/png", contentType)
}

func TestImageStore_GetUnknown(t *testing.T) {
	ctx := context.Background()
	client := runJetStream(t)

	store, err := OpenImageStore(ctx, client.JetStream(), ImageStoreConfig{BaseURL: "https://chat.example.com"}, logger.NewNop())
	require.NoError(t, err)

	_, _, err = store.Get(ctx, "nobody-1")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestImageStore_RequiresHTTPSBase(t *testing.T) {
	client := runJetStream(t)

	_, err := OpenImageStore(context.Background(), client.JetStream(), ImageStoreConfig{BaseURL: "http://chat.example.com"}, logger.NewNop())
	assert.Error(t, err)
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "bob-42", ObjectName("bob", time.UnixMilli(42)))
}
