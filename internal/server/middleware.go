package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/session"
	"github.com/go-chi/chi/v5/middleware"
)

// AccountLookup loads the account referenced by a session.
type AccountLookup interface {
	Get(ctx context.Context, id string) (*models.Account, error)
}

// RequestLogger logs one line per request with its status, duration and request id.
func RequestLogger(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).Round(time.Microsecond),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Recover turns a panic in a handler into a 500 response.
func Recover(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("handler panic", "panic", rec, "path", r.URL.Path,
						"request_id", middleware.GetReqID(r.Context()))
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Sessions resolves the session cookie and the signed-in account into a [RequestContext].
//
// Requests without a usable session get a fresh, unsaved one. A session that points at a deleted
// account is treated as signed out.
func Sessions(store session.Store, accounts AccountLookup, ttl time.Duration, logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rc := &RequestContext{}

			if id := session.IDFromRequest(r); id != "" {
				s, err := store.Get(ctx, id)
				switch {
				case err == nil && !s.Expired(time.Now()):
					rc.Session = s
				case err != nil && !errors.Is(err, session.ErrNotFound):
					logger.Warn("failed to load session", "error", err)
				}
			}

			if rc.Session == nil {
				s, err := session.New(ttl)
				if err != nil {
					logger.Error("failed to create session", "error", err)
					writeError(w, http.StatusInternalServerError, "internal error")
					return
				}
				rc.Session = s
				rc.fresh = true
			}

			if !rc.Session.Anonymous() {
				account, err := accounts.Get(ctx, rc.Session.AccountID)
				switch {
				case err == nil:
					rc.Account = account
				case errors.Is(err, repositories.ErrNotFound):
					rc.Session.SignOut()
				default:
					logger.Error("failed to load session account", "error", err)
					writeError(w, http.StatusInternalServerError, "internal error")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithRequestContext(ctx, rc)))
		})
	}
}
