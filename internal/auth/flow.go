package auth

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/session"
)

// Flow runs the browser-facing authorization round-trip: start issues state and builds the
// authorize URL; callback validates state, exchanges the code, links the identity and signs the
// session in.
type Flow struct {
	guard     *StateGuard
	exchanger *Exchanger
	linker    *Linker
	store     session.Store
	logger    *log.Logger
}

func NewFlow(guard *StateGuard, exchanger *Exchanger, linker *Linker, store session.Store, logger *log.Logger) *Flow {
	if logger == nil {
		logger = log.Default()
	}
	return &Flow{guard: guard, exchanger: exchanger, linker: linker, store: store, logger: logger}
}

// Start stores a new state on the session and returns the provider authorize URL.
func (f *Flow) Start(ctx context.Context, s *session.Session) (string, error) {
	state, err := f.guard.Issue(ctx, s)
	if err != nil {
		return "", err
	}
	return f.exchanger.AuthCodeURL(state), nil
}

// Callback completes the round-trip. current is the signed-in account, or nil.
//
// State is checked before anything else, and the account write only happens after the profile has
// been validated. On success the session moves to a new ID and references the returned account.
func (f *Flow) Callback(ctx context.Context, s *session.Session, current *models.Account, code, state string) (*models.Account, error) {
	if !f.guard.Validate(ctx, s, state) {
		return nil, ErrStateMismatch
	}

	if code == "" {
		return nil, ErrMissingCode
	}

	profile, token, err := f.exchanger.Authorize(ctx, code)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	account, err := f.linker.Link(ctx, profile, token, current)
	if err != nil {
		return nil, err
	}

	previous, err := s.Rotate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	s.SignIn(account.ID())
	s.Nonce = ""
	if err := f.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("%w: failed to save session: %v", ErrAuthFailed, err)
	}
	if err := f.store.Delete(ctx, previous); err != nil {
		f.logger.Warn("failed to delete previous session", "session", previous, "error", err)
	}

	f.logger.Info("external sign-in complete", "account", account.ID(), "session", s.ID)
	return account, nil
}
