package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"polycopy/internal/storage"
)

// UserStore implements storage.UserStore using PostgreSQL.
type UserStore struct {
	pool *Pool
}

// NewUserStore creates a new UserStore.
func NewUserStore(pool *Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Compile-time interface check.
var _ storage.UserStore = (*UserStore)(nil)

const userColumns = `telegram_id, address, track_addresses, private_key, api_key, api_secret, api_passphrase, created_at, updated_at`

func (s *UserStore) Get(ctx context.Context, telegramID int64) (*storage.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, query, telegramID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) Upsert(ctx context.Context, u *storage.User) error {
	if u == nil || u.TelegramID == 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO users (
			telegram_id, address, track_addresses, private_key, api_key, api_secret, api_passphrase
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (telegram_id) DO UPDATE SET
			address = EXCLUDED.address,
			track_addresses = EXCLUDED.track_addresses,
			private_key = EXCLUDED.private_key,
			api_key = EXCLUDED.api_key,
			api_secret = EXCLUDED.api_secret,
			api_passphrase = EXCLUDED.api_passphrase,
			updated_at = now()
	`

	tracked := u.TrackAddresses
	if tracked == nil {
		tracked = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		u.TelegramID,
		u.Address,
		tracked,
		u.PrivateKey,
		u.APIKey,
		u.APISecret,
		u.APIPassphrase,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *UserStore) Delete(ctx context.Context, telegramID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE telegram_id = $1`, telegramID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *UserStore) List(ctx context.Context) ([]*storage.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY telegram_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var result []*storage.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return result, nil
}

func (s *UserStore) AddTrackWallet(ctx context.Context, telegramID int64, wallet string) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE users SET
			track_addresses = CASE
				WHEN $2 = ANY(track_addresses) THEN track_addresses
				ELSE array_append(track_addresses, $2)
			END,
			updated_at = now()
		WHERE telegram_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, telegramID, wallet)
	if err != nil {
		return fmt.Errorf("add track wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *UserStore) RemoveTrackWallet(ctx context.Context, telegramID int64, wallet string) error {
	query := `
		UPDATE users SET
			track_addresses = array_remove(track_addresses, $2),
			updated_at = now()
		WHERE telegram_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, telegramID, wallet)
	if err != nil {
		return fmt.Errorf("remove track wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*storage.User, error) {
	var u storage.User
	err := row.Scan(
		&u.TelegramID,
		&u.Address,
		&u.TrackAddresses,
		&u.PrivateKey,
		&u.APIKey,
		&u.APISecret,
		&u.APIPassphrase,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
