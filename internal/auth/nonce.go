package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/session"
	"github.com/desertthunder/setlist/internal/shared"
)

const nonceBytes = 32

// StateGuard issues and checks the one-time state value of an authorization round-trip.
type StateGuard struct {
	store  session.Store
	logger *log.Logger
}

func NewStateGuard(store session.Store, logger *log.Logger) *StateGuard {
	if logger == nil {
		logger = log.Default()
	}
	return &StateGuard{store: store, logger: logger}
}

// Issue stores a fresh nonce on the session, replacing any unconsumed one, and returns it.
func (g *StateGuard) Issue(ctx context.Context, s *session.Session) (string, error) {
	nonce, err := shared.RandomToken(nonceBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	s.Nonce = nonce
	if err := g.store.Save(ctx, s); err != nil {
		return "", fmt.Errorf("failed to save state: %w", err)
	}

	return nonce, nil
}

// Validate reports whether received matches the nonce issued for the session.
// The stored nonce is cleared on every call, so a value validates at most once.
func (g *StateGuard) Validate(ctx context.Context, s *session.Session, received string) bool {
	stored := s.Nonce
	s.Nonce = ""
	if err := g.store.Save(ctx, s); err != nil {
		g.logger.Warn("failed to clear state", "session", s.ID, "err", err)
	}

	if stored == "" || received == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(received)) == 1
}
