package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/setlist/internal/auth"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/shared"
	tu "github.com/desertthunder/setlist/internal/testing"
)

// testConfig returns a config backed by a database file in a temp dir. With a fake provider the
// Spotify endpoints point at it, otherwise credentials are left empty.
func testConfig(t *testing.T, fake *tu.FakeProvider) *shared.Config {
	t.Helper()

	config := shared.DefaultConfig()
	config.Database.Path = filepath.Join(t.TempDir(), "setlist.db")
	config.Credentials.Spotify = shared.SpotifyConfig{}

	if fake != nil {
		config.Credentials.Spotify = shared.SpotifyConfig{
			ClientID:     fake.ClientID,
			ClientSecret: fake.ClientSecret,
			RedirectURI:  "http://localhost:3000/auth/external/callback",
			Scopes:       []string{"user-read-email"},
			AuthURL:      fake.AuthURL(),
			TokenURL:     fake.TokenURL(),
			APIURL:       fake.APIURL(),
		}
	}
	return config
}

// writeConfig encodes config as TOML into a temp file and returns its path.
func writeConfig(t *testing.T, config *shared.Config) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		t.Fatalf("failed to encode config: %v", err)
	}
	return path
}

func run(r *Runner, args ...string) error {
	return r.command().Run(context.Background(), append([]string{"setlist"}, args...))
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: nil})
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: nil})
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("registers commands", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			names := []string{}
			for _, cmd := range runner.register() {
				names = append(names, cmd.Name)
			}
			if got := strings.Join(names, ","); got != "serve,setup,accounts" {
				t.Errorf("unexpected commands: %s", got)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if result := output.String(); result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			// channels cannot be marshaled to JSON
			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline error, got %v", err)
			}
		})
	})

	t.Run("loadConfig", func(t *testing.T) {
		t.Run("missing file falls back to defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard)})

			config, err := runner.loadConfig(filepath.Join(t.TempDir(), "nope.toml"), "")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if config.Server.Port != shared.DefaultConfig().Server.Port {
				t.Errorf("expected default port, got %d", config.Server.Port)
			}
		})

		t.Run("environment overrides file", func(t *testing.T) {
			path := writeConfig(t, testConfig(t, nil))
			t.Setenv("DATABASE_PATH", "/tmp/from-env.db")
			t.Setenv("PORT", "8088")

			config, err := NewRunner(RunnerOpts{}).loadConfig(path, "")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if config.Database.Path != "/tmp/from-env.db" || config.Server.Port != 8088 {
				t.Errorf("expected env overrides, got path=%s port=%d", config.Database.Path, config.Server.Port)
			}
		})

		t.Run("dotenv file", func(t *testing.T) {
			env := filepath.Join(t.TempDir(), ".env")
			if err := os.WriteFile(env, []byte("SPOTIFY_CLIENT_ID=from-dotenv\n"), 0600); err != nil {
				t.Fatalf("failed to write env file: %v", err)
			}
			t.Setenv("SPOTIFY_CLIENT_ID", "")
			os.Unsetenv("SPOTIFY_CLIENT_ID")

			config, err := NewRunner(RunnerOpts{}).loadConfig(writeConfig(t, testConfig(t, nil)), env)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if config.Credentials.Spotify.ClientID != "from-dotenv" {
				t.Errorf("expected client id from dotenv, got %q", config.Credentials.Spotify.ClientID)
			}
		})

		t.Run("invalid port", func(t *testing.T) {
			t.Setenv("PORT", "http")

			_, err := NewRunner(RunnerOpts{}).loadConfig(writeConfig(t, testConfig(t, nil)), "")
			if !errors.Is(err, shared.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})

		t.Run("malformed file", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte("[server\nport = "), 0644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			_, err := NewRunner(RunnerOpts{}).loadConfig(path, "")
			if !errors.Is(err, shared.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})

		t.Run("preset config wins", func(t *testing.T) {
			config := testConfig(t, nil)
			got, err := NewRunner(RunnerOpts{Config: config}).loadConfig("ignored.toml", "")
			if err != nil || got != config {
				t.Errorf("expected preset config, got %v, %v", got, err)
			}
		})
	})
}

func TestSetupCommands(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		dir := t.TempDir()
		wd := tu.MustGetwd(t)
		tu.MustChdir(t, dir)
		t.Cleanup(func() { tu.MustChdir(t, wd) })

		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output, Logger: shared.NewLogger(io.Discard)})

		if err := run(runner, "setup", "config"); err != nil {
			t.Fatalf("setup config failed: %v", err)
		}

		tu.AssertFileExists(t, filepath.Join(dir, "config.toml"))
		if content := tu.MustReadFile(t, filepath.Join(dir, "config.toml")); !strings.Contains(content, "[credentials.spotify]") {
			t.Errorf("expected example config, got:\n%s", content)
		}
		if !strings.Contains(output.String(), "Config written: config.toml") {
			t.Errorf("unexpected output: %s", output.String())
		}

		if err := run(runner, "setup", "config"); err == nil || !strings.Contains(err.Error(), "already exists") {
			t.Errorf("expected existing file to be left alone, got %v", err)
		}
	})

	t.Run("database", func(t *testing.T) {
		config := testConfig(t, nil)
		path := writeConfig(t, config)
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output, Logger: shared.NewLogger(io.Discard)})

		if err := run(runner, "setup", "database", "--config", path, "--env", ""); err != nil {
			t.Fatalf("setup database failed: %v", err)
		}

		tu.AssertFileExists(t, config.Database.Path)
		if !strings.Contains(output.String(), "Database ready") {
			t.Errorf("unexpected output: %s", output.String())
		}

		db, err := shared.NewDatabase(config.Database.Path)
		if err != nil {
			t.Fatalf("failed to reopen database: %v", err)
		}
		if _, err := repositories.NewAccountRepository(db).Count(context.Background()); err != nil {
			t.Errorf("expected migrated schema, got %v", err)
		}
		db.Close()

		if err := run(runner, "setup", "rollback", "--config", path, "--env", ""); err != nil {
			t.Fatalf("setup rollback failed: %v", err)
		}
		if !strings.Contains(output.String(), "Rolled back latest migration") {
			t.Errorf("unexpected output: %s", output.String())
		}
	})
}

type accountsFixture struct {
	fake    *tu.FakeProvider
	config  *shared.Config
	runner  *Runner
	output  *bytes.Buffer
	access  string
	refresh string
}

func newAccountsFixture(t *testing.T) *accountsFixture {
	t.Helper()

	f := &accountsFixture{fake: tu.NewFakeProvider(t), output: &bytes.Buffer{}}
	f.config = testConfig(t, f.fake)
	f.runner = NewRunner(RunnerOpts{Config: f.config, Output: f.output, Logger: shared.NewLogger(io.Discard)})

	db, err := shared.NewDatabase(f.config.Database.Path)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer db.Close()
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	accounts := repositories.NewAccountRepository(db)
	ctx := context.Background()

	local := models.NewAccount(0, "local_user", "local@example.com")
	local.SetPasswordHash("$2a$10$placeholder")
	if err := accounts.Create(ctx, local); err != nil {
		t.Fatalf("failed to create local account: %v", err)
	}

	f.access, f.refresh = f.fake.IssueTokens(tu.FakeIdentity{ID: "sp-cli", Email: "linked@example.com"})
	linked := models.NewAccount(0, "linked_user", "linked@example.com")
	linked.SetProviderID("sp-cli")
	linked.SetTokens(f.access, f.refresh, time.Now().Add(-time.Minute))
	if err := accounts.Create(ctx, linked); err != nil {
		t.Fatalf("failed to create linked account: %v", err)
	}

	return f
}

func (f *accountsFixture) account(t *testing.T, username string) *models.Account {
	t.Helper()

	db, err := shared.NewDatabase(f.config.Database.Path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	account, err := repositories.NewAccountRepository(db).GetByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("failed to load %s: %v", username, err)
	}
	return account
}

func TestAccountsCommands(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		f := newAccountsFixture(t)

		if err := run(f.runner, "accounts", "list"); err != nil {
			t.Fatalf("accounts list failed: %v", err)
		}

		out := f.output.String()
		for _, want := range []string{"local_user", "unlinked", "linked_user", "expired"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
	})

	t.Run("list linked as JSON", func(t *testing.T) {
		f := newAccountsFixture(t)

		if err := run(f.runner, "accounts", "list", "--linked", "--json"); err != nil {
			t.Fatalf("accounts list failed: %v", err)
		}

		var listed []map[string]any
		if err := json.Unmarshal(f.output.Bytes(), &listed); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", f.output.String(), err)
		}
		if len(listed) != 1 || listed[0]["username"] != "linked_user" || listed[0]["spotify_linked"] != true {
			t.Errorf("unexpected accounts: %v", listed)
		}
		if strings.Contains(f.output.String(), f.refresh) {
			t.Error("tokens must not be printed")
		}
	})

	t.Run("refresh", func(t *testing.T) {
		f := newAccountsFixture(t)

		if err := run(f.runner, "accounts", "refresh", "--username", "linked_user"); err != nil {
			t.Fatalf("accounts refresh failed: %v", err)
		}

		if !strings.Contains(f.output.String(), "Token refreshed for linked_user") {
			t.Errorf("unexpected output: %s", f.output.String())
		}
		if f.fake.RefreshGrants() != 1 {
			t.Errorf("expected 1 refresh grant, got %d", f.fake.RefreshGrants())
		}

		account := f.account(t, "linked_user")
		if account.AccessToken() == f.access {
			t.Error("expected a new access token to be stored")
		}
		if account.RefreshToken() != f.refresh {
			t.Error("expected the refresh token to be kept when not rotated")
		}
		if account.TokenExpired(time.Now()) {
			t.Errorf("expected a future expiry, got %v", account.TokenExpiry())
		}
	})

	t.Run("refresh failures", func(t *testing.T) {
		tests := []struct {
			name     string
			username string
			setup    func(f *accountsFixture)
			want     error
		}{
			{"unlinked account", "local_user", nil, shared.ErrInvalidArgument},
			{"unknown account", "ghost", nil, repositories.ErrNotFound},
			{"revoked refresh token", "linked_user", func(f *accountsFixture) { f.fake.RevokeRefreshTokens() }, auth.ErrReauthRequired},
			{"transport failure", "linked_user", func(f *accountsFixture) {
				f.runner.httpClient = &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection refused"))}
			}, auth.ErrReauthRequired},
			{"not configured", "linked_user", func(f *accountsFixture) { f.config.Credentials.Spotify = shared.SpotifyConfig{} }, shared.ErrMissingCredentials},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newAccountsFixture(t)
				if tt.setup != nil {
					tt.setup(f)
				}

				err := run(f.runner, "accounts", "refresh", "--username", tt.username)
				if !errors.Is(err, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, err)
				}
			})
		}
	})
}

func TestBuildApp(t *testing.T) {
	logger := shared.NewLogger(io.Discard)
	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

	serve := func(t *testing.T, config *shared.Config) *httptest.Server {
		t.Helper()
		a, err := NewRunner(RunnerOpts{Logger: logger}).buildApp(context.Background(), config)
		if err != nil {
			t.Fatalf("buildApp failed: %v", err)
		}
		t.Cleanup(func() { a.Close() })

		srv := httptest.NewServer(a.handler)
		t.Cleanup(srv.Close)
		return srv
	}

	get := func(t *testing.T, url string) (*http.Response, string) {
		t.Helper()
		res, err := noRedirect.Get(url)
		if err != nil {
			t.Fatalf("GET %s failed: %v", url, err)
		}
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		return res, string(body)
	}

	t.Run("with spotify", func(t *testing.T) {
		fake := tu.NewFakeProvider(t)
		srv := serve(t, testConfig(t, fake))

		if res, body := get(t, srv.URL+"/health"); res.StatusCode != http.StatusOK {
			t.Errorf("expected healthy server, got %d %s", res.StatusCode, body)
		}

		res, _ := get(t, srv.URL+"/auth/external/start")
		if res.StatusCode != http.StatusFound || !strings.HasPrefix(res.Header.Get("Location"), fake.AuthURL()) {
			t.Errorf("expected redirect to provider, got %d %q", res.StatusCode, res.Header.Get("Location"))
		}

		_, metrics := get(t, srv.URL+"/metrics")
		for _, want := range []string{"go_goroutines", "setlist_http_requests_total"} {
			if !strings.Contains(metrics, want) {
				t.Errorf("expected %s in metrics output", want)
			}
		}
	})

	t.Run("without spotify", func(t *testing.T) {
		srv := serve(t, testConfig(t, nil))

		if res, _ := get(t, srv.URL+"/auth/external/start"); res.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", res.StatusCode)
		}
		if res, _ := get(t, srv.URL+"/auth/sign-in"); res.StatusCode != http.StatusOK {
			t.Errorf("expected sign-in page, got %d", res.StatusCode)
		}
	})

	t.Run("session backends", func(t *testing.T) {
		tests := []struct {
			name    string
			backend string
			addr    string
			wantErr bool
		}{
			{"memory", "memory", "", false},
			{"default", "", "", false},
			{"unknown", "memcached", "", true},
			{"unreachable redis", "redis", "127.0.0.1:1", true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				config := testConfig(t, nil)
				config.Session.Backend = tt.backend
				config.Session.RedisAddr = tt.addr

				a, err := NewRunner(RunnerOpts{Logger: logger}).buildApp(context.Background(), config)
				if tt.wantErr {
					if err == nil {
						a.Close()
						t.Fatal("expected error")
					}
					return
				}
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				a.Close()
			})
		}
	})
}
