package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// FakeIdentity is a user known to the [FakeProvider].
type FakeIdentity struct {
	ID          string
	Email       string
	DisplayName string
}

// FakeTrack is a catalog entry served by the [FakeProvider].
type FakeTrack struct {
	ID         string
	Name       string
	Artist     string
	Album      string
	DurationMS int
}

// FakeProvider emulates the Spotify accounts and web API endpoints used by the auth and catalog code.
//
// The token endpoint requires HTTP Basic client authentication and supports the authorization_code
// and refresh_token grants. Authorization codes are single use.
type FakeProvider struct {
	Server       *httptest.Server
	ClientID     string
	ClientSecret string

	mu       sync.Mutex
	seq      int
	codes    map[string]FakeIdentity
	access   map[string]string // access token -> identity id
	refresh  map[string]string // refresh token -> identity id
	profiles map[string]FakeIdentity
	tracks   []FakeTrack

	// ExpiresIn is the lifetime reported for issued access tokens, in seconds.
	ExpiresIn int
	// RotateRefresh makes refresh grants issue a new refresh token.
	RotateRefresh bool
	// ProfileStatus, when set, is returned by /v1/me instead of the profile.
	ProfileStatus int
	// APIStatus, when set, is returned by the catalog endpoints.
	APIStatus int

	codeCalls    int
	refreshCalls int
	profileCalls int
	apiCalls     int
	lastBody     string
}

// NewFakeProvider starts a provider that is closed when the test finishes.
func NewFakeProvider(t *testing.T) *FakeProvider {
	t.Helper()

	p := &FakeProvider{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		codes:        map[string]FakeIdentity{},
		access:       map[string]string{},
		refresh:      map[string]string{},
		profiles:     map[string]FakeIdentity{},
		ExpiresIn:    3600,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", p.handleToken)
	mux.HandleFunc("GET /v1/me", p.handleMe)
	mux.HandleFunc("GET /v1/search", p.handleSearch)
	mux.HandleFunc("GET /v1/tracks/{id}", p.handleTrack)
	mux.HandleFunc("POST /v1/echo", p.handleEcho)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

func (p *FakeProvider) AuthURL() string  { return p.Server.URL + "/authorize" }
func (p *FakeProvider) TokenURL() string { return p.Server.URL + "/api/token" }
func (p *FakeProvider) APIURL() string   { return p.Server.URL + "/v1" }

// IssueCode registers a one-time authorization code that resolves to identity.
func (p *FakeProvider) IssueCode(identity FakeIdentity) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	code := fmt.Sprintf("code-%d", p.seq)
	p.codes[code] = identity
	p.profiles[identity.ID] = identity
	return code
}

// IssueTokens mints an access/refresh pair for identity without going through a code exchange.
func (p *FakeProvider) IssueTokens(identity FakeIdentity) (access, refresh string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.profiles[identity.ID] = identity
	access = p.newAccessLocked(identity.ID)
	refresh = p.newRefreshLocked(identity.ID)
	return access, refresh
}

// ExpireAccessTokens invalidates every issued access token; API calls then answer 401.
func (p *FakeProvider) ExpireAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.access = map[string]string{}
}

// RevokeRefreshTokens invalidates every issued refresh token; refresh grants then fail with invalid_grant.
func (p *FakeProvider) RevokeRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresh = map[string]string{}
}

// AddTrack adds a track to the catalog.
func (p *FakeProvider) AddTrack(track FakeTrack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
}

// CodeExchanges returns the number of authorization_code grants received.
func (p *FakeProvider) CodeExchanges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codeCalls
}

// RefreshGrants returns the number of refresh_token grants received.
func (p *FakeProvider) RefreshGrants() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

// ProfileCalls returns the number of /v1/me requests received.
func (p *FakeProvider) ProfileCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profileCalls
}

// APICalls returns the number of catalog and echo requests received.
func (p *FakeProvider) APICalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apiCalls
}

// LastBody returns the body of the most recent echo request.
func (p *FakeProvider) LastBody() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastBody
}

func (p *FakeProvider) newAccessLocked(identityID string) string {
	p.seq++
	token := fmt.Sprintf("access-%d", p.seq)
	p.access[token] = identityID
	return token
}

func (p *FakeProvider) newRefreshLocked(identityID string) string {
	p.seq++
	token := fmt.Sprintf("refresh-%d", p.seq)
	p.refresh[token] = identityID
	return token
}

func (p *FakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id != p.ClientID || secret != p.ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_client",
			"error_description": "Invalid client",
		})
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	body := map[string]any{"token_type": "Bearer", "expires_in": p.ExpiresIn, "scope": "user-read-email"}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.codeCalls++
		identity, ok := p.codes[r.PostForm.Get("code")]
		if !ok || r.PostForm.Get("redirect_uri") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid authorization code",
			})
			return
		}
		delete(p.codes, r.PostForm.Get("code"))
		body["access_token"] = p.newAccessLocked(identity.ID)
		body["refresh_token"] = p.newRefreshLocked(identity.ID)

	case "refresh_token":
		p.refreshCalls++
		identityID, ok := p.refresh[r.PostForm.Get("refresh_token")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Refresh token revoked",
			})
			return
		}
		body["access_token"] = p.newAccessLocked(identityID)
		if p.RotateRefresh {
			delete(p.refresh, r.PostForm.Get("refresh_token"))
			body["refresh_token"] = p.newRefreshLocked(identityID)
		}

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	writeJSON(w, http.StatusOK, body)
}

// authorizeLocked resolves the bearer token to an identity. Callers must hold p.mu.
func (p *FakeProvider) authorizeLocked(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	identityID, ok := p.access[token]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"status": 401, "message": "The access token expired"},
		})
		return "", false
	}
	return identityID, true
}

func (p *FakeProvider) handleMe(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.profileCalls++
	if p.ProfileStatus != 0 {
		writeJSON(w, p.ProfileStatus, map[string]any{"error": map[string]any{"status": p.ProfileStatus}})
		return
	}

	identityID, ok := p.authorizeLocked(w, r)
	if !ok {
		return
	}

	identity := p.profiles[identityID]
	profile := map[string]any{"id": identity.ID, "display_name": identity.DisplayName}
	if identity.Email != "" {
		profile["email"] = identity.Email
	}
	writeJSON(w, http.StatusOK, profile)
}

func (p *FakeProvider) handleSearch(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.apiCalls++
	if !p.apiStatusLocked(w) {
		return
	}
	if _, ok := p.authorizeLocked(w, r); !ok {
		return
	}

	q := strings.ToLower(r.URL.Query().Get("q"))
	items := []map[string]any{}
	for _, track := range p.tracks {
		if strings.Contains(strings.ToLower(track.Name), q) || strings.Contains(strings.ToLower(track.Artist), q) {
			items = append(items, trackJSON(track))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"tracks": map[string]any{"items": items, "total": len(items)}})
}

func (p *FakeProvider) handleTrack(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.apiCalls++
	if !p.apiStatusLocked(w) {
		return
	}
	if _, ok := p.authorizeLocked(w, r); !ok {
		return
	}

	for _, track := range p.tracks {
		if track.ID == r.PathValue("id") {
			writeJSON(w, http.StatusOK, trackJSON(track))
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"status": 404, "message": "non existing id"}})
}

func (p *FakeProvider) handleEcho(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.apiCalls++
	if _, ok := p.authorizeLocked(w, r); !ok {
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	data, _ := json.Marshal(body)
	p.lastBody = string(data)
	writeJSON(w, http.StatusOK, map[string]any{"received": body})
}

func (p *FakeProvider) apiStatusLocked(w http.ResponseWriter) bool {
	if p.APIStatus == 0 {
		return true
	}
	writeJSON(w, p.APIStatus, map[string]any{
		"error": map[string]any{"status": p.APIStatus, "message": "internal provider detail"},
	})
	return false
}

func trackJSON(track FakeTrack) map[string]any {
	return map[string]any{
		"id":            track.ID,
		"name":          track.Name,
		"duration_ms":   track.DurationMS,
		"artists":       []map[string]any{{"name": track.Artist}},
		"album":         map[string]any{"name": track.Album},
		"external_urls": map[string]string{"spotify": "https://open.spotify.com/track/" + track.ID},
		"uri":           "spotify:track:" + track.ID,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
