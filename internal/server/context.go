package server

import (
	"context"

	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/session"
)

type contextKey struct{}

// RequestContext carries the per-request authentication state resolved by the session middleware.
//
// Session is never nil once the middleware has run. A session that has not been saved yet is marked
// fresh; handlers that change it must save it and set the cookie. Account is nil for anonymous requests.
type RequestContext struct {
	Session *session.Session
	Account *models.Account
	fresh   bool
}

// SignedIn reports whether the request belongs to an account.
func (rc *RequestContext) SignedIn() bool { return rc != nil && rc.Account != nil }

// AccountID returns the signed-in account's ID, or "" for anonymous requests.
func (rc *RequestContext) AccountID() string {
	if !rc.SignedIn() {
		return ""
	}
	return rc.Account.ID()
}

// WithRequestContext returns a copy of ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the request context stored by the session middleware, or nil.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rc
}
