package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/setlist/internal/shared"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every outbound provider call.
const DefaultTimeout = 10 * time.Second

// Provider holds the OAuth client configuration and HTTP transport shared by the exchanger,
// refresher and API client.
type Provider struct {
	config  *oauth2.Config
	apiURL  string
	client  *http.Client
	timeout time.Duration
}

// NewProvider builds a [Provider] from the Spotify credentials section of the config.
// The token endpoint is called with HTTP Basic client authentication.
func NewProvider(cfg shared.SpotifyConfig, timeout time.Duration) (*Provider, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret", shared.ErrMissingCredentials)
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("%w: spotify redirect_uri", shared.ErrMissingConfig)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	return &Provider{
		config:  config,
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}, nil
}

// SetHTTPClient replaces the transport used for every provider call.
func (p *Provider) SetHTTPClient(c *http.Client) { p.client = c }

// outbound derives the context for a provider call. The call is detached from the caller's
// cancellation so a disconnecting browser cannot abort a half-finished exchange, and bounded by
// the provider timeout instead.
func (p *Provider) outbound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, p.client), cancel
}

// resolve turns an API path into an absolute URL.
func (p *Provider) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return p.apiURL + "/" + strings.TrimLeft(path, "/")
}
