package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
)

// maxLoggedBody caps how much of a provider error body is written to the log.
const maxLoggedBody = 1024

// Profile is the provider identity returned by the profile endpoint.
type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Exchanger trades authorization codes for tokens and fetches the matching profile.
type Exchanger struct {
	provider *Provider
	logger   *log.Logger
}

func NewExchanger(provider *Provider, logger *log.Logger) *Exchanger {
	if logger == nil {
		logger = log.Default()
	}
	return &Exchanger{provider: provider, logger: logger}
}

// AuthCodeURL returns the provider authorize URL carrying response_type=code, client_id, scope,
// redirect_uri and the given state.
func (e *Exchanger) AuthCodeURL(state string) string {
	return e.provider.config.AuthCodeURL(state)
}

// Exchange sends the code, redirect URI and client credentials to the token endpoint.
//
// Any rejection is reported as [ErrExchangeFailed]; the provider's response body is logged, never returned.
func (e *Exchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	ctx, cancel := e.provider.outbound(ctx)
	defer cancel()

	token, err := e.provider.config.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			status := 0
			if rerr.Response != nil {
				status = rerr.Response.StatusCode
			}
			e.logger.Error("token endpoint rejected code", "status", status, "body", truncate(rerr.Body))
			return nil, fmt.Errorf("%w: status %d", ErrExchangeFailed, status)
		}

		e.logger.Error("token exchange failed", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrExchangeFailed)
	}

	return token, nil
}

// FetchProfile loads the profile behind a freshly issued access token.
//
// Returns [ErrProfileFetchFailed] on any failure and [ErrNoEmail] when the profile lacks an email.
func (e *Exchanger) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	ctx, cancel := e.provider.outbound(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.provider.resolve("/me"), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := e.provider.client.Do(req)
	if err != nil {
		e.logger.Error("profile request failed", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
		e.logger.Error("profile endpoint rejected token", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("%w: status %d", ErrProfileFetchFailed, resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("%w: failed to decode profile: %v", ErrProfileFetchFailed, err)
	}

	if profile.ID == "" {
		return nil, fmt.Errorf("%w: profile has no id", ErrProfileFetchFailed)
	}
	if profile.Email == "" {
		return nil, ErrNoEmail
	}

	return &profile, nil
}

// Authorize runs the code exchange and then the profile fetch, in that order.
func (e *Exchanger) Authorize(ctx context.Context, code string) (*Profile, *oauth2.Token, error) {
	token, err := e.Exchange(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	profile, err := e.FetchProfile(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	return profile, token, nil
}

func truncate(body []byte) string {
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody]
	}
	return string(body)
}
