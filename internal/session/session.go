package session

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/setlist/internal/shared"
)

// DefaultTTL is how long an idle session survives in the store.
const DefaultTTL = 14 * 24 * time.Hour

var ErrNotFound = fmt.Errorf("session not found")

// Session is the server-side state behind a browser cookie: the signed-in account, if any,
// and the nonce of an in-flight provider authorization.
type Session struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id,omitempty"`
	Nonce     string    `json:"nonce,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// New creates an anonymous session with a random ID that expires after ttl.
func New(ttl time.Duration) (*Session, error) {
	id, err := shared.RandomToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	return &Session{ID: id, CreatedAt: now, ExpiresAt: now.Add(ttl)}, nil
}

// Rotate moves the session to a new random ID and returns the previous one. Callers rotate whenever
// the signed-in account changes and delete the previous ID from the store.
func (s *Session) Rotate() (string, error) {
	id, err := shared.RandomToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}

	previous := s.ID
	s.ID = id
	return previous, nil
}

// Anonymous reports whether no account is signed in.
func (s *Session) Anonymous() bool { return s.AccountID == "" }

// SignIn binds the session to an account.
func (s *Session) SignIn(accountID string) { s.AccountID = accountID }

// SignOut drops the account reference and any pending nonce.
func (s *Session) SignOut() {
	s.AccountID = ""
	s.Nonce = ""
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// Touch extends the session's expiry to ttl from now.
func (s *Session) Touch(ttl time.Duration) { s.ExpiresAt = time.Now().Add(ttl) }

// Store persists sessions server-side. Implementations must return copies so callers cannot
// mutate stored state without calling Save.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
