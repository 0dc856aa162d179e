package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"

	"github.com/desertthunder/setlist/internal/auth"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/server"
	"github.com/desertthunder/setlist/internal/services"
	"github.com/desertthunder/setlist/internal/session"
	"github.com/desertthunder/setlist/internal/shared"
	"github.com/desertthunder/setlist/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app is the wired server: the handler plus the resources it must release on shutdown.
type app struct {
	handler http.Handler
	db      *sql.DB
	closers []io.Closer
}

func (a *app) Close() error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
	return a.db.Close()
}

// openDatabase opens the configured database and brings its schema up to date.
func (r *Runner) openDatabase(config *shared.Config) (*sql.DB, error) {
	r.logger.Info("opening database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	if config.Database.Path != ":memory:" {
		shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// newSessionStore returns the backend named by the session config.
func (r *Runner) newSessionStore(ctx context.Context, config *shared.Config) (session.Store, io.Closer, error) {
	switch config.Session.Backend {
	case "", "memory":
		return session.NewMemoryStore(config.Server.SessionTTLDuration()), nil, nil
	case "redis":
		store, err := session.NewRedisStore(ctx, config.Session.RedisAddr, config.Session.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		r.logger.Info("using redis session store", "addr", config.Session.RedisAddr)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown session backend %q", shared.ErrInvalidConfig, config.Session.Backend)
	}
}

// newProvider builds the Spotify endpoints, routing requests through the runner's HTTP client when set.
func (r *Runner) newProvider(config *shared.Config) (*auth.Provider, error) {
	provider, err := auth.NewProvider(config.Credentials.Spotify, config.Server.ProviderTimeoutDuration())
	if err != nil {
		return nil, err
	}
	if r.httpClient != nil {
		provider.SetHTTPClient(r.httpClient)
	}
	return provider, nil
}

// buildApp wires repositories, session store, Spotify services and metrics into the router.
// Spotify sign-in and the catalog are left out when no client credentials are configured.
func (r *Runner) buildApp(ctx context.Context, config *shared.Config) (*app, error) {
	db, err := r.openDatabase(config)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	sessions, closer, err := r.newSessionStore(ctx, config)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := server.NewMetrics(registry)
	if err != nil {
		a.Close()
		return nil, err
	}

	accounts := repositories.NewAccountRepository(db)
	playlists := repositories.NewPlaylistRepository(db)
	songs := repositories.NewSongRepository(db)

	deps := server.Dependencies{
		Accounts:  accounts,
		Playlists: playlists,
		Songs:     songs,
		Sessions:  sessions,
		Local:     auth.NewLocalAccounts(accounts, r.logger),
		DB:        db,
		Metrics:   metrics,
		Logger:    r.logger,
	}

	var catalog services.Catalog
	if config.Credentials.Spotify.Configured() {
		provider, err := r.newProvider(config)
		if err != nil {
			a.Close()
			return nil, err
		}

		refresher := auth.NewRefresher(provider, accounts, r.logger)
		refresher.SetRefreshCallback(metrics.ObserveRefresh)
		client := auth.NewClient(provider, refresher, r.logger)
		client.SetCallCallback(metrics.ObserveProviderCall)
		catalog = services.NewSpotifyCatalog(client)

		deps.Flow = auth.NewFlow(
			auth.NewStateGuard(sessions, r.logger),
			auth.NewExchanger(provider, r.logger),
			auth.NewLinker(accounts, r.logger),
			sessions,
			r.logger,
		)
		deps.Catalog = catalog
	} else {
		r.logger.Warn("spotify credentials not configured, external sign-in and catalog are disabled")
	}
	deps.Importer = tasks.NewImporter(catalog, songs, playlists, config.Catalog.RateLimit, r.logger)

	a.handler = server.New(server.Options{
		CookieSecure: config.Server.CookieSecure,
		SessionTTL:   config.Server.SessionTTLDuration(),
	}, deps)
	return a, nil
}
