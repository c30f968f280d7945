package storage

import (
	"slices"
	"time"
)

// User is a registered account keyed by its Telegram id.
// Credentials are stored as given.
type User struct {
	TelegramID     int64     `json:"telegram_id"`
	Address        string    `json:"address"`
	TrackAddresses []string  `json:"track_addresses"`
	PrivateKey     string    `json:"-"`
	APIKey         string    `json:"-"`
	APISecret      string    `json:"-"`
	APIPassphrase  string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// APIEnabled reports whether all three API credentials are present.
func (u *User) APIEnabled() bool {
	return u.APIKey != "" && u.APISecret != "" && u.APIPassphrase != ""
}

// CanTrade reports whether orders can be signed for the user.
func (u *User) CanTrade() bool {
	return u.PrivateKey != ""
}

// Tracks reports whether wallet is in the user's tracked list.
func (u *User) Tracks(wallet string) bool {
	return slices.Contains(u.TrackAddresses, wallet)
}

// Clone returns a copy that does not share the tracked list.
func (u *User) Clone() *User {
	c := *u
	c.TrackAddresses = slices.Clone(u.TrackAddresses)
	return &c
}

// SessionRecord is the history row written when a session ends.
type SessionRecord struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"user_id"`
	TraderAddress  string    `json:"trader_address"`
	Margin         float64   `json:"margin"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	ExitReason     string    `json:"exit_reason"`
	TotalFound     int       `json:"total_found"`
	MarketsTracked int       `json:"markets_tracked"`
	Executed       int       `json:"executed"`
	Closed         int       `json:"closed"`
}

// SessionSnapshot is the live view of a running session.
type SessionSnapshot struct {
	SessionID        string    `json:"session_id"`
	UserID           int64     `json:"user_id"`
	TraderAddress    string    `json:"trader_address"`
	TradingEnabled   bool      `json:"trading_enabled"`
	StartedAt        time.Time `json:"started_at"`
	Deadline         time.Time `json:"deadline"`
	UpdatedAt        time.Time `json:"updated_at"`
	TotalFound       int       `json:"total_found"`
	MarketsTracked   int       `json:"markets_tracked"`
	TrackedPositions int       `json:"tracked_positions"`
	ProcessedCount   int       `json:"processed_count"`
	Executed         int       `json:"executed"`
	Closed           int       `json:"closed"`
}
