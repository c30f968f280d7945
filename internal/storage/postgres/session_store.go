package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"polycopy/internal/storage"
)

// SessionStore implements storage.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

var _ storage.SessionStore = (*SessionStore)(nil)

const sessionColumns = `id, user_id, trader_address, margin, started_at, ended_at, exit_reason, total_found, markets_tracked, executed, closed`

// Insert adds a record. Returns ErrDuplicateKey if the id exists.
func (s *SessionStore) Insert(ctx context.Context, r *storage.SessionRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO copy_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.UserID,
		r.TraderAddress,
		r.Margin,
		r.StartedAt,
		r.EndedAt,
		r.ExitReason,
		r.TotalFound,
		r.MarketsTracked,
		r.Executed,
		r.Closed,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*storage.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM copy_sessions WHERE id = $1`

	r, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return r, nil
}

func (s *SessionStore) ListByUser(ctx context.Context, userID int64, limit int) ([]*storage.SessionRecord, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM copy_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC, id ASC
	`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []*storage.SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}

func scanSession(row pgx.Row) (*storage.SessionRecord, error) {
	var r storage.SessionRecord
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.TraderAddress,
		&r.Margin,
		&r.StartedAt,
		&r.EndedAt,
		&r.ExitReason,
		&r.TotalFound,
		&r.MarketsTracked,
		&r.Executed,
		&r.Closed,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
