package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/queuechat/internal/model"
)

func msg(id, sender, text string) model.Message {
	return model.Message{ID: id, Sender: sender, Recipient: "other", Text: text, Origin: model.OriginRemote}
}

func TestStore_HasAndAdmit(t *testing.T) {
	s := New()

	assert.False(t, s.Has("m1"))

	s.Admit("m1")
	assert.True(t, s.Has("m1"))
	assert.Equal(t, 1, s.Len())

	// Idempotent
	s.Admit("m1")
	assert.Equal(t, 1, s.Len())
}

func TestStore_CheckAndAdmit(t *testing.T) {
	s := New()

	assert.False(t, s.CheckAndAdmit("m1"))
	assert.True(t, s.CheckAndAdmit("m1"))
	assert.True(t, s.Has("m1"))
}

func TestStore_Merge(t *testing.T) {
	s := New()
	batch := []model.Message{msg("m1", "bob", "a"), msg("m2", "bob", "b")}

	log, n := s.Merge(nil, batch)
	require.Len(t, log, 2)
	assert.Equal(t, 2, n)
	assert.True(t, s.Has("m1"))
	assert.True(t, s.Has("m2"))
}

func TestStore_MergeTwiceIsIdempotent(t *testing.T) {
	batch := []model.Message{msg("m1", "bob", "a"), msg("m2", "alice", "b")}

	once := New()
	onceLog, _ := once.Merge(nil, batch)

	twice := New()
	twiceLog, _ := twice.Merge(nil, batch)
	twiceLog, n := twice.Merge(twiceLog, batch)

	assert.Equal(t, 0, n)
	assert.Equal(t, onceLog, twiceLog)
}

func TestStore_MergeCollapsesDuplicatesWithinBatch(t *testing.T) {
	s := New()
	batch := []model.Message{msg("m1", "bob", "first"), msg("m1", "bob", "again"), msg("m2", "bob", "b")}

	log, n := s.Merge(nil, batch)
	require.Len(t, log, 2)
	assert.Equal(t, 2, n)
	assert.Equal(t, "first", log[0].Text)
}

func TestStore_MergeSkipsLocallyAdmitted(t *testing.T) {
	s := New()
	local := model.Message{ID: "m1", Sender: "alice", Text: "hi", Origin: model.OriginLocal}
	log := []model.Message{local}
	s.Admit("m1")

	log, n := s.Merge(log, []model.Message{msg("m1", "alice", "hi")})
	assert.Equal(t, 0, n)
	require.Len(t, log, 1)
	assert.Equal(t, model.OriginLocal, log[0].Origin)
}

func TestStore_DistinctIDsForSameContentBothAdmitted(t *testing.T) {
	s := New()
	log, n := s.Merge(nil, []model.Message{msg("m1", "bob", "hello"), msg("m9", "bob", "hello")})
	assert.Equal(t, 2, n)
	assert.Len(t, log, 2)
}

func TestStore_Concurrent(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("m%d", i%10)
			s.Admit(id)
			_ = s.Has(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, s.Len())
}
