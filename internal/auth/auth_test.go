package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/session"
	"github.com/desertthunder/setlist/internal/shared"
	tu "github.com/desertthunder/setlist/internal/testing"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

type testEnv struct {
	accounts *repositories.AccountRepository
	store    *session.MemoryStore
	fake     *tu.FakeProvider
	provider *Provider
	logger   *log.Logger
}

func newTestEnv(t *testing.T) *testEnv {
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
	provider, err := NewProvider(shared.SpotifyConfig{
		ClientID:     fake.ClientID,
		ClientSecret: fake.ClientSecret,
		RedirectURI:  "http://localhost:3000/auth/external/callback",
		Scopes:       []string{"user-read-email", "user-read-private"},
		AuthURL:      fake.AuthURL(),
		TokenURL:     fake.TokenURL(),
		APIURL:       fake.APIURL(),
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	return &testEnv{
		accounts: repositories.NewAccountRepository(db),
		store:    session.NewMemoryStore(time.Hour),
		fake:     fake,
		provider: provider,
		logger:   shared.NewLogger(io.Discard),
	}
}

// stalledProvider points every provider endpoint at a server that does not answer within timeout.
func (e *testEnv) stalledProvider(t *testing.T, timeout time.Duration) *Provider {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	provider, err := NewProvider(shared.SpotifyConfig{
		ClientID:     e.fake.ClientID,
		ClientSecret: e.fake.ClientSecret,
		RedirectURI:  "http://localhost:3000/auth/external/callback",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/api/token",
		APIURL:       srv.URL + "/v1",
	}, timeout)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return provider
}

func (e *testEnv) linker() *Linker       { return NewLinker(e.accounts, e.logger) }
func (e *testEnv) exchanger() *Exchanger { return NewExchanger(e.provider, e.logger) }
func (e *testEnv) refresher() *Refresher { return NewRefresher(e.provider, e.accounts, e.logger) }

func (e *testEnv) newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New(time.Hour)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return s
}

// localAccount stores a password account with a cheap hash.
func (e *testEnv) localAccount(t *testing.T, username, email string) *models.Account {
	t.Helper()

	hash, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	account := models.NewAccount(0, username, email)
	account.SetPasswordHash(string(hash))
	if err := e.accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return account
}

// linkedAccount stores an account that already holds a provider identity and tokens from the fake provider.
func (e *testEnv) linkedAccount(t *testing.T, username, email, providerID string) *models.Account {
	t.Helper()

	access, refresh := e.fake.IssueTokens(tu.FakeIdentity{ID: providerID, Email: email, DisplayName: username})
	account := models.NewAccount(0, username, email)
	account.SetProviderID(providerID)
	account.SetTokens(access, refresh, time.Now().Add(time.Hour))
	if err := e.accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return account
}

func (e *testEnv) count(t *testing.T) int {
	t.Helper()
	n, err := e.accounts.Count(context.Background())
	if err != nil {
		t.Fatalf("failed to count accounts: %v", err)
	}
	return n
}

// snapshot renders every stored account so tests can assert that nothing was written.
func (e *testEnv) snapshot(t *testing.T) []string {
	t.Helper()

	accounts, err := e.accounts.List(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("failed to list accounts: %v", err)
	}

	var snap []string
	for _, a := range accounts {
		snap = append(snap, fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%d|%s",
			a.ID(), a.Username(), a.Email(), a.PasswordHash(), a.ProviderID(), a.AccessToken(), a.RefreshToken(),
			a.Version(), a.UpdatedAt().Format(time.RFC3339Nano)))
	}
	return snap
}

func testToken(access, refresh string) *oauth2.Token {
	return &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: time.Now().Add(time.Hour)}
}
