package auth

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
)

// Refresh outcomes reported to the refresh callback.
const (
	RefreshSucceeded = "success"
	RefreshFailed    = "failure"
	RefreshNoToken   = "no_refresh_token"
)

// Refresher mints new access tokens from stored refresh tokens.
type Refresher struct {
	provider  *Provider
	accounts  AccountStore
	logger    *log.Logger
	onRefresh func(outcome string)
}

func NewRefresher(provider *Provider, accounts AccountStore, logger *log.Logger) *Refresher {
	if logger == nil {
		logger = log.Default()
	}
	return &Refresher{provider: provider, accounts: accounts, logger: logger}
}

// SetRefreshCallback registers fn to be called with the outcome of every refresh.
func (r *Refresher) SetRefreshCallback(fn func(outcome string)) { r.onRefresh = fn }

// Refresh exchanges the account's refresh token for a new access token and stores it.
//
// It never returns an error: ok is false when the account has no refresh token or the provider
// refused, and callers should treat that as re-authentication required. A refresh token is
// only replaced when the provider issues a new one.
func (r *Refresher) Refresh(ctx context.Context, accountID string) (string, bool) {
	logger := r.logger.With("account", accountID)

	account, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		logger.Error("failed to load account for refresh", "err", err)
		r.report(RefreshFailed)
		return "", false
	}

	if account.RefreshToken() == "" {
		r.report(RefreshNoToken)
		return "", false
	}

	ctx, cancel := r.provider.outbound(ctx)
	defer cancel()

	token, err := r.provider.config.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken()}).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			logger.Warn("refresh grant rejected", "code", rerr.ErrorCode, "body", truncate(rerr.Body))
		} else {
			logger.Warn("refresh grant failed", "err", err)
		}
		r.report(RefreshFailed)
		return "", false
	}

	// The oauth2 refresher echoes the old refresh token when none is issued; UpdateTokens keeps it either way.
	if err := r.accounts.UpdateTokens(ctx, account.ID(), token.AccessToken, token.RefreshToken, token.Expiry); err != nil {
		logger.Error("failed to store refreshed token", "err", err)
		r.report(RefreshFailed)
		return "", false
	}

	logger.Debug("refreshed access token", "expiry", token.Expiry)
	r.report(RefreshSucceeded)
	return token.AccessToken, true
}

func (r *Refresher) report(outcome string) {
	if r.onRefresh != nil {
		r.onRefresh(outcome)
	}
}
