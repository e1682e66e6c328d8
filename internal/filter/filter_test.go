package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/queuechat/internal/codec"
	"github.com/capitalize-ai/queuechat/internal/model"
	"github.com/capitalize-ai/queuechat/pkg/logger"
)

func TestFilter_SingleEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		envelope string
		keep     bool
	}{
		{"local to remote", "alice: hi | to: bob", true},
		{"remote to local", "bob: hello | to: alice", true},
		{"image from remote", "bob: https://x/y.png | to: alice", true},
		{"third party sender", "carol: hi | to: alice", false},
		{"third party recipient", "alice: hi | to: carol", false},
		{"unrelated pair", "carol: hi | to: dave", false},
		{"self message", "alice: note | to: alice", false},
		{"malformed", "alice says hi to bob", false},
		{"prefix is not identity", "alice2: hi | to: bob", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Filter([]model.Delivery{{ID: "m1", Envelope: tt.envelope}}, "alice", "bob", logger.NewNop())
			assert.Equal(t, tt.keep, len(out) == 1)

			// Filtering agrees with decoding, whichever side opens the view.
			msg, err := codec.Decode(tt.envelope)
			decodedMatch := err == nil && Matches(msg, "alice", "bob")
			assert.Equal(t, decodedMatch, len(out) == 1)
			assert.Equal(t, len(out), len(Filter([]model.Delivery{{ID: "m1", Envelope: tt.envelope}}, "bob", "alice", nil)))
		})
	}
}

func TestFilter_PreservesOrder(t *testing.T) {
	batch := []model.Delivery{
		{ID: "3", Envelope: "bob: c | to: alice"},
		{ID: "x", Envelope: "carol: noise | to: bob"},
		{ID: "1", Envelope: "alice: a | to: bob"},
		{ID: "y", Envelope: "garbage"},
		{ID: "2", Envelope: "bob: b | to: alice"},
	}

	out := Filter(batch, "alice", "bob", logger.NewNop())
	require.Len(t, out, 3)
	assert.Equal(t, "3", out[0].ID)
	assert.Equal(t, "1", out[1].ID)
	assert.Equal(t, "2", out[2].ID)
}

func TestSelect_DecodesMessages(t *testing.T) {
	batch := []model.Delivery{
		{ID: "m1", Envelope: "bob: hello | to: alice"},
		{ID: "m2", Envelope: "alice: https://img/1.png | to: bob"},
		{ID: "m3", Envelope: "carol: hi | to: alice"},
	}

	msgs := Select(batch, "alice", "bob", logger.NewNop())
	require.Len(t, msgs, 2)

	assert.Equal(t, model.Message{
		ID:        "m1",
		Sender:    "bob",
		Recipient: "alice",
		Text:      "hello",
		Origin:    model.OriginRemote,
	}, msgs[0])
	assert.Equal(t, "https://img/1.png", msgs[1].ImageURL)
	assert.Equal(t, model.OriginRemote, msgs[1].Origin)
}

func TestFilter_EmptyBatch(t *testing.T) {
	assert.Empty(t, Filter(nil, "alice", "bob", nil))
	assert.Empty(t, Select(nil, "alice", "bob", nil))
}
