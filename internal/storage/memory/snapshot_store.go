package memory

import (
	"context"
	"sync"

	"polycopy/internal/storage"
)

// SnapshotStore keeps live session snapshots in a map. Entries never
// expire; they are deleted when the session ends.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]storage.SessionSnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{data: make(map[string]storage.SessionSnapshot)}
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

func (s *SnapshotStore) Save(_ context.Context, snap *storage.SessionSnapshot) error {
	if snap == nil || snap.SessionID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	s.data[snap.SessionID] = *snap
	s.mu.Unlock()
	return nil
}

func (s *SnapshotStore) Get(_ context.Context, sessionID string) (*storage.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &snap, nil
}

func (s *SnapshotStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.data, sessionID)
	s.mu.Unlock()
	return nil
}
