package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/setlist/internal/auth"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/shared"
	tu "github.com/desertthunder/setlist/internal/testing"
)

// stubCaller records requests and decodes a canned JSON body into out.
type stubCaller struct {
	method string
	path   string
	body   string
	err    error
}

func (s *stubCaller) Call(_ context.Context, _ *models.Account, method, path string, _, out any) error {
	s.method = method
	s.path = path
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.body), out)
}

func newLiveCatalog(t *testing.T) (*SpotifyCatalog, *tu.FakeProvider, *models.Account) {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	fake := tu.NewFakeProvider(t)
	provider, err := auth.NewProvider(shared.SpotifyConfig{
		ClientID:     fake.ClientID,
		ClientSecret: fake.ClientSecret,
		RedirectURI:  "http://localhost:3000/auth/external/callback",
		AuthURL:      fake.AuthURL(),
		TokenURL:     fake.TokenURL(),
		APIURL:       fake.APIURL(),
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	logger := shared.NewLogger(io.Discard)
	accounts := repositories.NewAccountRepository(db)
	client := auth.NewClient(provider, auth.NewRefresher(provider, accounts, logger), logger)

	access, refresh := fake.IssueTokens(tu.FakeIdentity{ID: "sp-user-1", Email: "listener@example.com"})
	account := models.NewAccount(0, "listener", "listener@example.com")
	account.SetProviderID("sp-user-1")
	account.SetTokens(access, refresh, time.Now().Add(time.Hour))
	if err := accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}

	return NewSpotifyCatalog(client), fake, account
}

func TestSpotifyCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("Name", func(t *testing.T) {
		if name := NewSpotifyCatalog(&stubCaller{}).Name(); name != "Spotify" {
			t.Errorf("expected catalog name 'Spotify', got %s", name)
		}
	})

	t.Run("SearchTracks", func(t *testing.T) {
		t.Run("Builds Query", func(t *testing.T) {
			caller := &stubCaller{body: `{"tracks":{"items":[],"total":0}}`}
			catalog := NewSpotifyCatalog(caller)

			if _, err := catalog.SearchTracks(ctx, nil, "  daft punk ", 0); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if caller.method != http.MethodGet {
				t.Errorf("expected GET, got %s", caller.method)
			}
			if !strings.HasPrefix(caller.path, "/search?") {
				t.Errorf("expected search path, got %s", caller.path)
			}
			for _, want := range []string{"q=daft+punk", "type=track", "limit=20"} {
				if !strings.Contains(caller.path, want) {
					t.Errorf("expected path to contain %q, got %s", want, caller.path)
				}
			}
		})

		t.Run("Caps Limit", func(t *testing.T) {
			caller := &stubCaller{body: `{"tracks":{"items":[]}}`}
			if _, err := NewSpotifyCatalog(caller).SearchTracks(ctx, nil, "x", 500); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !strings.Contains(caller.path, "limit=50") {
				t.Errorf("expected limit to be capped at 50, got %s", caller.path)
			}
		})

		t.Run("Empty Query", func(t *testing.T) {
			caller := &stubCaller{}
			_, err := NewSpotifyCatalog(caller).SearchTracks(ctx, nil, "   ", 10)
			if !errors.Is(err, shared.ErrMissingArgument) {
				t.Errorf("expected ErrMissingArgument, got %v", err)
			}
			if caller.path != "" {
				t.Error("expected no request for an empty query")
			}
		})

		t.Run("Maps Tracks", func(t *testing.T) {
			caller := &stubCaller{body: `{"tracks":{"items":[{
				"id":"t1","name":"Get Lucky","duration_ms":369000,
				"artists":[{"name":"Daft Punk"},{"name":"Pharrell Williams"}],
				"album":{"name":"Random Access Memories"},
				"external_ids":{"isrc":"USQX91300108"},
				"external_urls":{"spotify":"https://open.spotify.com/track/t1"}}]}}`}

			tracks, err := NewSpotifyCatalog(caller).SearchTracks(ctx, nil, "lucky", 5)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(tracks) != 1 {
				t.Fatalf("expected 1 track, got %d", len(tracks))
			}

			track := tracks[0]
			if track.Title != "Get Lucky" || track.Album != "Random Access Memories" {
				t.Errorf("unexpected track: %+v", track)
			}
			if track.Artist != "Daft Punk, Pharrell Williams" {
				t.Errorf("expected joined artists, got %q", track.Artist)
			}
			if track.Duration != 369 {
				t.Errorf("expected duration 369, got %d", track.Duration)
			}
			if track.ISRC != "USQX91300108" {
				t.Errorf("expected ISRC, got %q", track.ISRC)
			}
			if track.Link != "https://open.spotify.com/track/t1" {
				t.Errorf("expected link, got %q", track.Link)
			}
		})

		t.Run("Passes Errors Through", func(t *testing.T) {
			caller := &stubCaller{err: auth.ErrReauthRequired}
			_, err := NewSpotifyCatalog(caller).SearchTracks(ctx, nil, "x", 1)
			if !errors.Is(err, auth.ErrReauthRequired) {
				t.Errorf("expected ErrReauthRequired, got %v", err)
			}
		})
	})

	t.Run("Track", func(t *testing.T) {
		t.Run("Escapes ID", func(t *testing.T) {
			caller := &stubCaller{body: `{"id":"a/b","name":"Odd"}`}
			if _, err := NewSpotifyCatalog(caller).Track(ctx, nil, "a/b"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if caller.path != "/tracks/a%2Fb" {
				t.Errorf("expected escaped path, got %s", caller.path)
			}
		})

		t.Run("Missing ID", func(t *testing.T) {
			_, err := NewSpotifyCatalog(&stubCaller{}).Track(ctx, nil, "")
			if !errors.Is(err, shared.ErrMissingArgument) {
				t.Errorf("expected ErrMissingArgument, got %v", err)
			}
		})
	})

	t.Run("Against Provider", func(t *testing.T) {
		t.Run("Search And Lookup", func(t *testing.T) {
			catalog, fake, account := newLiveCatalog(t)
			fake.AddTrack(tu.FakeTrack{ID: "trk-1", Name: "Harder Better", Artist: "Daft Punk", Album: "Discovery", DurationMS: 224000})
			fake.AddTrack(tu.FakeTrack{ID: "trk-2", Name: "Windowlicker", Artist: "Aphex Twin", DurationMS: 366000})

			tracks, err := catalog.SearchTracks(ctx, account, "daft", 10)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(tracks) != 1 || tracks[0].ID != "trk-1" {
				t.Fatalf("expected trk-1, got %+v", tracks)
			}

			track, err := catalog.Track(ctx, account, "trk-2")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if track.Title != "Windowlicker" || track.Duration != 366 {
				t.Errorf("unexpected track: %+v", track)
			}
		})

		t.Run("Refreshes Expired Token", func(t *testing.T) {
			catalog, fake, account := newLiveCatalog(t)
			fake.AddTrack(tu.FakeTrack{ID: "trk-1", Name: "Digital Love", Artist: "Daft Punk"})
			fake.ExpireAccessTokens()

			if _, err := catalog.Track(ctx, account, "trk-1"); err != nil {
				t.Fatalf("expected refresh and retry to succeed, got %v", err)
			}
			if fake.RefreshGrants() != 1 {
				t.Errorf("expected 1 refresh grant, got %d", fake.RefreshGrants())
			}
		})

		t.Run("Unknown Track", func(t *testing.T) {
			catalog, _, account := newLiveCatalog(t)

			_, err := catalog.Track(ctx, account, "missing")
			var upstream *auth.UpstreamError
			if !errors.As(err, &upstream) {
				t.Fatalf("expected UpstreamError, got %v", err)
			}
			if upstream.Status != http.StatusNotFound {
				t.Errorf("expected status 404, got %d", upstream.Status)
			}
		})
	})
}

func TestTrackToSong(t *testing.T) {
	track := Track{ID: "trk-9", Title: "Aerodynamic", Artist: "Daft Punk", Album: "Discovery", Duration: 212, Link: "https://open.spotify.com/track/trk-9"}
	song := track.ToSong("acct-1")

	if song.Title() != "Aerodynamic" || song.Artist() != "Daft Punk" || song.Album() != "Discovery" {
		t.Errorf("unexpected song fields: %s / %s / %s", song.Title(), song.Artist(), song.Album())
	}
	if song.Duration() != 212 {
		t.Errorf("expected duration 212, got %d", song.Duration())
	}
	if song.SpotifyID() != "trk-9" || song.SpotifyLink() != track.Link {
		t.Errorf("expected spotify reference, got %s %s", song.SpotifyID(), song.SpotifyLink())
	}
	if song.AddedBy() != "acct-1" {
		t.Errorf("expected added by acct-1, got %s", song.AddedBy())
	}
}
