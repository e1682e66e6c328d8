// Package dedup tracks which message ids a conversation log already holds.
package dedup

import (
	"sync"

	"github.com/capitalize-ai/queuechat/internal/model"
)

// Store is the set of admitted message ids for one conversation. It grows
// for the life of the conversation view and is never evicted.
//
// Ids are compared verbatim, so a logical message redelivered under a new
// transport id is admitted again.
type Store struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{seen: make(map[string]struct{})}
}

// Has reports whether id was admitted.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// Admit marks id as known. Admitting twice is a no-op.
func (s *Store) Admit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[id] = struct{}{}
}

// CheckAndAdmit admits id and reports whether it was already known.
func (s *Store) CheckAndAdmit(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return true
	}
	s.seen[id] = struct{}{}
	return false
}

// Len returns the number of admitted ids.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Merge appends every message of batch whose id is unknown to log, admitting
// each one as it is appended, and returns the new log with the number
// appended. Duplicates inside batch collapse to their first occurrence.
func (s *Store) Merge(log, batch []model.Message) ([]model.Message, int) {
	admitted := 0
	for _, msg := range batch {
		if s.CheckAndAdmit(msg.ID) {
			continue
		}
		log = append(log, msg)
		admitted++
	}
	return log, admitted
}
