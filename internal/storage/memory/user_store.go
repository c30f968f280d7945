package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"polycopy/internal/storage"
)

// UserStore is an in-memory implementation of storage.UserStore.
type UserStore struct {
	mu   sync.RWMutex
	data map[int64]*storage.User // keyed by telegram_id
	now  func() time.Time
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		data: make(map[int64]*storage.User),
		now:  time.Now,
	}
}

// Compile-time interface check.
var _ storage.UserStore = (*UserStore)(nil)

func (s *UserStore) Get(_ context.Context, telegramID int64) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.data[telegramID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *UserStore) Upsert(_ context.Context, u *storage.User) error {
	if u == nil || u.TelegramID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	c := u.Clone()
	if c.TrackAddresses == nil {
		c.TrackAddresses = []string{}
	}
	c.UpdatedAt = now
	if prev, ok := s.data[u.TelegramID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = now
	}
	s.data[u.TelegramID] = c
	return nil
}

func (s *UserStore) Delete(_ context.Context, telegramID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[telegramID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.data, telegramID)
	return nil
}

func (s *UserStore) List(_ context.Context) ([]*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.User, 0, len(s.data))
	for _, u := range s.data {
		result = append(result, u.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TelegramID < result[j].TelegramID
	})
	return result, nil
}

func (s *UserStore) AddTrackWallet(_ context.Context, telegramID int64, wallet string) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data[telegramID]
	if !ok {
		return storage.ErrNotFound
	}
	if !u.Tracks(wallet) {
		u.TrackAddresses = append(u.TrackAddresses, wallet)
	}
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *UserStore) RemoveTrackWallet(_ context.Context, telegramID int64, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data[telegramID]
	if !ok {
		return storage.ErrNotFound
	}
	u.TrackAddresses = slices.DeleteFunc(u.TrackAddresses, func(w string) bool { return w == wallet })
	u.UpdatedAt = s.now().UTC()
	return nil
}
