package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/models"
)

const maxResponseBody = 4 << 20

// TokenRefresher is satisfied by [Refresher].
type TokenRefresher interface {
	Refresh(ctx context.Context, accountID string) (string, bool)
}

// Client calls the provider's resource API on behalf of an account.
//
// An expired token is refreshed before the request. A 401 triggers at most one refresh and one
// retry; a failed refresh yields [ErrReauthRequired] and any other non-success status an [*UpstreamError].
type Client struct {
	provider  *Provider
	refresher TokenRefresher
	logger    *log.Logger
	onCall    func(method string, status int)
	now       func() time.Time
}

func NewClient(provider *Provider, refresher TokenRefresher, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{provider: provider, refresher: refresher, logger: logger, now: time.Now}
}

// SetCallCallback registers fn to be called with the status of every provider response.
// Transport failures report status 0.
func (c *Client) SetCallCallback(fn func(method string, status int)) { c.onCall = fn }

// Call issues method against path with the account's access token and decodes a JSON response into out.
// body, when non-nil, is sent as JSON. The account's in-memory access token follows any refresh.
func (c *Client) Call(ctx context.Context, account *models.Account, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = data
	}

	refreshed := false
	token := account.AccessToken()
	if token == "" || account.TokenExpired(c.now()) {
		fresh, ok := c.refresher.Refresh(ctx, account.ID())
		if !ok {
			return ErrReauthRequired
		}
		token = fresh
		refreshed = true
		account.SetTokens(fresh, "", time.Time{})
	}

	status, data, err := c.do(ctx, method, path, payload, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && !refreshed {
		c.logger.Debug("access token rejected, refreshing", "account", account.ID(), "path", path)

		fresh, ok := c.refresher.Refresh(ctx, account.ID())
		if !ok {
			return ErrReauthRequired
		}
		account.SetTokens(fresh, "", time.Time{})

		status, data, err = c.do(ctx, method, path, payload, fresh)
		if err != nil {
			return err
		}
	}

	if status < 200 || status >= 300 {
		c.logger.Warn("provider call failed", "account", account.ID(), "method", method, "path", path,
			"status", status, "body", truncate(data))
		return newUpstreamError(status)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, token string) (int, []byte, error) {
	ctx, cancel := c.provider.outbound(ctx)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.provider.resolve(path), body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.provider.client.Do(req)
	if err != nil {
		c.logger.Warn("provider request failed", "method", method, "path", path, "err", err)
		c.report(method, 0)
		return 0, nil, newUpstreamError(0)
	}
	defer resp.Body.Close()

	c.report(method, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, data, nil
}

func (c *Client) report(method string, status int) {
	if c.onCall != nil {
		c.onCall(method, status)
	}
}
