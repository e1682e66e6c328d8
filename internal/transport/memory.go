package transport

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/capitalize-ai/queuechat/internal/model"
)

// Memory is an in-process shared queue. Every reader opened on it sees every
// envelope, in publish order. With Redeliver set, each batch is handed to a
// reader twice, which exercises at-least-once handling.
type Memory struct {
	Redeliver bool

	mu     sync.Mutex
	items  []model.Delivery
	seq    uint64
	notify chan struct{}
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{})}
}

// Open returns a reader/writer positioned at the start of the queue.
func (m *Memory) Open(_ context.Context, identity string) (Transport, error) {
	return &memoryEndpoint{queue: m, identity: identity}, nil
}

// Len returns the number of envelopes published so far.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) publish(envelope string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := strconv.FormatUint(m.seq, 10)
	m.items = append(m.items, model.Delivery{ID: id, Envelope: envelope})

	close(m.notify)
	m.notify = make(chan struct{})
	return id
}

// since returns up to max items at or after cursor, and a channel closed on
// the next publish.
func (m *Memory) since(cursor, max int) ([]model.Delivery, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cursor >= len(m.items) {
		return nil, m.notify
	}
	end := cursor + max
	if end > len(m.items) {
		end = len(m.items)
	}
	out := make([]model.Delivery, end-cursor)
	copy(out, m.items[cursor:end])
	return out, m.notify
}

type memoryEndpoint struct {
	queue    *Memory
	identity string

	mu     sync.Mutex
	cursor int
	replay []model.Delivery
}

func (e *memoryEndpoint) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]model.Delivery, error) {
	if maxMessages <= 0 {
		maxMessages = 10
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.replay) > 0 {
		out := e.replay
		e.replay = nil
		return out, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		batch, notify := e.queue.since(e.cursor, maxMessages)
		if len(batch) > 0 {
			e.cursor += len(batch)
			if e.queue.Redeliver {
				e.replay = batch
			}
			return batch, nil
		}

		select {
		case <-ctx.Done():
			return nil, Wrap("receive", ctx.Err())
		case <-timer.C:
			return nil, nil
		case <-notify:
		}
	}
}

func (e *memoryEndpoint) Send(ctx context.Context, envelope string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Wrap("send", err)
	}
	return e.queue.publish(envelope), nil
}
