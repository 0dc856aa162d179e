package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/services"
	"github.com/desertthunder/setlist/internal/session"
	"github.com/go-chi/chi/v5/middleware"
)

// Options configures the HTTP surface.
type Options struct {
	CookieSecure bool
	SessionTTL   time.Duration
}

// Dependencies are the components the handlers are built from. Flow and Catalog are nil when
// Spotify credentials are not configured.
type Dependencies struct {
	Accounts  AccountLookup
	Playlists PlaylistStore
	Songs     SongStore
	Sessions  session.Store
	Flow      AuthFlow
	Local     PasswordAccounts
	Catalog   services.Catalog
	Importer  TrackImporter
	DB        Pinger
	Metrics   *Metrics
	Logger    *log.Logger
}

// New builds the router with the full middleware stack and every handler registered.
func New(opts Options, deps Dependencies) *BasicRouter {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = session.DefaultTTL
	}

	router := NewBasicRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		RequestLogger(logger),
		Recover(logger),
		deps.Metrics.Middleware,
		Sessions(deps.Sessions, deps.Accounts, opts.SessionTTL, logger),
	)

	router.Handler(&OpsHandler{db: deps.DB, metrics: deps.Metrics, logger: logger})
	router.Handler(&AuthHandler{
		flow:     deps.Flow,
		local:    deps.Local,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		logger:   logger,
		secure:   opts.CookieSecure,
		ttl:      opts.SessionTTL,
	})
	router.Handler(&PlaylistHandler{playlists: deps.Playlists, songs: deps.Songs, logger: logger})
	router.Handler(&SongHandler{songs: deps.Songs, logger: logger})
	router.Handler(&CatalogHandler{catalog: deps.Catalog, importer: deps.Importer, metrics: deps.Metrics, logger: logger})

	router.Handle(http.MethodGet, "/", http.HandlerFunc(home))
	router.NotFound(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))

	return router
}

// home is the post-sign-in landing route.
func home(w http.ResponseWriter, r *http.Request) {
	rc := FromContext(r.Context())
	body := map[string]any{"signed_in": rc.SignedIn()}
	if rc.SignedIn() {
		body["account"] = rc.Account
	}
	writeJSON(w, http.StatusOK, body)
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
