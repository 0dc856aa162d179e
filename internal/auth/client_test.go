package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	tu "github.com/desertthunder/setlist/internal/testing"
)

type stubRefresher struct {
	token string
	ok    bool
	calls int
}

func (s *stubRefresher) Refresh(context.Context, string) (string, bool) {
	s.calls++
	return s.token, s.ok
}

type searchResult struct {
	Tracks struct {
		Items []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
	} `json:"tracks"`
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testEnv, *Client) {
		env := newTestEnv(t)
		env.fake.AddTrack(tu.FakeTrack{ID: "t1", Name: "Harvest Moon", Artist: "Neil Young", DurationMS: 303000})
		return env, NewClient(env.provider, env.refresher(), env.logger)
	}

	t.Run("valid token", func(t *testing.T) {
		env, client := setup(t)
		account := env.linkedAccount(t, "ann", "a@x.com", "p1")

		var out searchResult
		if err := client.Call(ctx, account, http.MethodGet, "/search?q=harvest&type=track", nil, &out); err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if len(out.Tracks.Items) != 1 || out.Tracks.Items[0].ID != "t1" {
			t.Errorf("unexpected result %+v", out)
		}
		if env.fake.RefreshGrants() != 0 {
			t.Error("no refresh expected")
		}
	})

	t.Run("401 refreshes once and retries once", func(t *testing.T) {
		env, client := setup(t)
		account := env.linkedAccount(t, "ann", "a@x.com", "p1")
		env.fake.ExpireAccessTokens()

		if err := client.Call(ctx, account, http.MethodGet, "/tracks/t1", nil, nil); err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if env.fake.RefreshGrants() != 1 || env.fake.APICalls() != 2 {
			t.Errorf("expected 1 refresh and 2 calls, got %d and %d", env.fake.RefreshGrants(), env.fake.APICalls())
		}

		reloaded, _ := env.accounts.Get(ctx, account.ID())
		if err := client.Call(ctx, reloaded, http.MethodGet, "/tracks/t1", nil, nil); err != nil {
			t.Fatalf("follow-up call failed: %v", err)
		}
		if env.fake.RefreshGrants() != 1 {
			t.Error("refreshed token should serve the next call without another refresh")
		}
	})

	t.Run("refreshed token serves one call without another refresh", func(t *testing.T) {
		env, client := setup(t)
		account := env.linkedAccount(t, "ann", "a@x.com", "p1")
		env.fake.ExpireAccessTokens()

		if _, ok := env.refresher().Refresh(ctx, account.ID()); !ok {
			t.Fatal("refresh failed")
		}

		reloaded, _ := env.accounts.Get(ctx, account.ID())
		if err := client.Call(ctx, reloaded, http.MethodGet, "/tracks/t1", nil, nil); err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if env.fake.RefreshGrants() != 1 || env.fake.APICalls() != 1 {
			t.Errorf("expected 1 refresh and 1 call, got %d and %d", env.fake.RefreshGrants(), env.fake.APICalls())
		}
	})

	t.Run("expired token is refreshed before the request", func(t *testing.T) {
		env, client := setup(t)
		account := env.linkedAccount(t, "ann", "a@x.com", "p1")
		account.SetTokens(account.AccessToken(), "", time.Now().Add(-time.Minute))

		if err := client.Call(ctx, account, http.MethodGet, "/tracks/t1", nil, nil); err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if env.fake.RefreshGrants() != 1 || env.fake.APICalls() != 1 {
			t.Errorf("expected 1 refresh and 1 call, got %d and %d", env.fake.RefreshGrants(), env.fake.APICalls())
		}
	})

	t.Run("failed refresh requires reauthentication", func(t *testing.T) {
		env, client := setup(t)
		account := env.linkedAccount(t, "ann", "a@x.com", "p1")
		env.fake.ExpireAccessTokens()
		env.fake.RevokeRefreshTokens()

		err := client.Call(ctx, account, http.MethodGet, "/tracks/t1", nil, nil)
		if !errors.Is(err, ErrReauthRequired) {
			t.Fatalf("expected ErrReauthRequired, got %v", err)
		}
		if env.fake.APICalls() != 1 {
			t.Errorf("expected no retry, got %d calls", env.fake.APICalls())
		}
	})

	t.Run("account without tokens requires reauthentication", func(t *testing.T) {
		env, client := setup(t)
		account := env.localAccount(t, "ann", "a@x.com")

		if err := client.Call(ctx, account, http.MethodGet, "/tracks/t1", nil, nil); !errors.Is(err, ErrReauthRequired) {
			t.Errorf("expected ErrReauthRequired, got %v", err)
		}
		if env.fake.APICalls() != 0 {
			t.Error("no request should be sent")
		}
	})

	t.Run("second 401 is not retried", func(t *testing.T) {
		env, _ := setup(t)
		account := env.linkedAccount(t, "ann", "a@x.com", "p1")
		env.fake.ExpireAccessTokens()

		stub := &stubRefresher{token: "still-invalid", ok: true}
		client := NewClient(env.provider, stub, env.logger)

		err := client.Call(ctx, account, http.MethodGet, "/tracks/t1", nil, nil)
		var upstream *UpstreamError
		if !errors.As(err, &upstream) || upstream.Status != http.StatusUnauthorized {
			t.Fatalf("expected upstream 401, got %v", err)
		}
		if stub.calls != 1 || env.fake.APICalls() != 2 {
			t.Errorf("expected 1 refresh and 2 calls, got %d and %d", stub.calls, env.fake.APICalls())
		}
	})

	t.Run("other statuses are redacted upstream errors", func(t *testing.T) {
		env, client := setup(t)
		account := env.linkedAccount(t, "ann", "a@x.com", "p1")
		env.fake.APIStatus = http.StatusInternalServerError

		var statuses []int
		client.SetCallCallback(func(_ string, status int) { statuses = append(statuses, status) })

		err := client.Call(ctx, account, http.MethodGet, "/tracks/t1", nil, nil)
		var upstream *UpstreamError
		if !errors.As(err, &upstream) {
			t.Fatalf("expected UpstreamError, got %v", err)
		}
		if !errors.Is(err, ErrUpstream) || upstream.Status != http.StatusInternalServerError {
			t.Errorf("unexpected error %v", err)
		}
		if strings.Contains(upstream.Message, "internal provider detail") {
			t.Errorf("message leaked provider body: %s", upstream.Message)
		}
		if env.fake.RefreshGrants() != 0 {
			t.Error("non-401 failures must not refresh")
		}
		if len(statuses) != 1 || statuses[0] != http.StatusInternalServerError {
			t.Errorf("unexpected statuses %v", statuses)
		}
	})

	t.Run("not found", func(t *testing.T) {
		env, client := setup(t)
		account := env.linkedAccount(t, "ann", "a@x.com", "p1")

		err := client.Call(ctx, account, http.MethodGet, "/tracks/missing", nil, nil)
		var upstream *UpstreamError
		if !errors.As(err, &upstream) || upstream.Status != http.StatusNotFound {
			t.Errorf("expected upstream 404, got %v", err)
		}
	})

	t.Run("sends JSON bodies", func(t *testing.T) {
		env, client := setup(t)
		account := env.linkedAccount(t, "ann", "a@x.com", "p1")
		env.fake.ExpireAccessTokens()

		body := map[string]any{"name": "Road Trip"}
		if err := client.Call(ctx, account, http.MethodPost, "/echo", body, nil); err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if env.fake.LastBody() != `{"name":"Road Trip"}` {
			t.Errorf("unexpected body %s", env.fake.LastBody())
		}
	})

	t.Run("stalled API times out as provider unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		account := env.linkedAccount(t, "ann", "a@x.com", "p1")
		stub := &stubRefresher{}
		client := NewClient(env.stalledProvider(t, 50*time.Millisecond), stub, env.logger)

		var statuses []int
		client.SetCallCallback(func(_ string, status int) { statuses = append(statuses, status) })

		started := time.Now()
		err := client.Call(ctx, account, http.MethodGet, "/tracks/t1", nil, nil)
		var upstream *UpstreamError
		if !errors.As(err, &upstream) || upstream.Status != 0 {
			t.Fatalf("expected upstream error with status 0, got %v", err)
		}
		if !strings.Contains(upstream.Message, "provider unavailable") {
			t.Errorf("unexpected message %q", upstream.Message)
		}
		if elapsed := time.Since(started); elapsed > 2*time.Second {
			t.Errorf("call should give up after the provider timeout, took %v", elapsed)
		}
		if stub.calls != 0 {
			t.Error("a transport failure must not refresh")
		}
		if len(statuses) != 1 || statuses[0] != 0 {
			t.Errorf("unexpected statuses %v", statuses)
		}
	})
}
