package storage

import "context"

// UserStore provides access to registered users.
type UserStore interface {
	// Get retrieves a user. Returns ErrNotFound if not exists.
	Get(ctx context.Context, telegramID int64) (*User, error)

	// Upsert inserts or replaces a user. CreatedAt is kept on replace.
	Upsert(ctx context.Context, u *User) error

	// Delete removes a user. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, telegramID int64) error

	// List returns all users ordered by telegram id.
	List(ctx context.Context) ([]*User, error)

	// AddTrackWallet appends wallet to the tracked list if absent.
	AddTrackWallet(ctx context.Context, telegramID int64, wallet string) error

	// RemoveTrackWallet removes wallet from the tracked list.
	RemoveTrackWallet(ctx context.Context, telegramID int64, wallet string) error
}

// SessionStore keeps the history of finished sessions.
type SessionStore interface {
	// Insert adds a record. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, r *SessionRecord) error

	// GetByID retrieves a record. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*SessionRecord, error)

	// ListByUser returns up to limit records for a user, newest first.
	// A non-positive limit returns all of them.
	ListByUser(ctx context.Context, userID int64, limit int) ([]*SessionRecord, error)
}

// SnapshotStore holds live session snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, s *SessionSnapshot) error

	// Get returns ErrNotFound for unknown or expired sessions.
	Get(ctx context.Context, sessionID string) (*SessionSnapshot, error)

	Delete(ctx context.Context, sessionID string) error
}
