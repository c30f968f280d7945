package memory

import (
	"context"
	"sort"
	"sync"

	"polycopy/internal/storage"
)

// SessionStore is an in-memory implementation of storage.SessionStore.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]*storage.SessionRecord
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		data: make(map[string]*storage.SessionRecord),
	}
}

var _ storage.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Insert(_ context.Context, r *storage.SessionRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}
	recordCopy := *r
	s.data[r.ID] = &recordCopy
	return nil
}

func (s *SessionStore) GetByID(_ context.Context, id string) (*storage.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	recordCopy := *r
	return &recordCopy, nil
}

func (s *SessionStore) ListByUser(_ context.Context, userID int64, limit int) ([]*storage.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.SessionRecord
	for _, r := range s.data {
		if r.UserID == userID {
			recordCopy := *r
			result = append(result, &recordCopy)
		}
	}

	// Newest first, id as tie breaker
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
