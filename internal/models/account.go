package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidEmail      = fmt.Errorf("invalid email")
	ErrMissingUsername   = fmt.Errorf("username is required")
	ErrMissingCredential = fmt.Errorf("account needs a password or a linked identity")
	ErrValidation        = fmt.Errorf("validation failed")
)

// Capabilities describes how an [Account] can authenticate.
type Capabilities struct {
	HasPassword         bool
	HasExternalIdentity bool
}

// Account is a local user. It holds a password credential, a linked provider identity, or both.
type Account struct {
	record
	username     string
	email        string
	passwordHash string
	providerID   string
	accessToken  string
	refreshToken string
	tokenExpiry  time.Time
	version      int
}

// NewAccount creates an unsaved account with the given username and email.
func NewAccount(sequence int, username, email string) *Account {
	return &Account{
		record:   newRecord(sequence),
		username: username,
		email:    NormalizeEmail(email),
		version:  1,
	}
}

func (a *Account) Username() string       { return a.username }
func (a *Account) Email() string          { return a.email }
func (a *Account) PasswordHash() string   { return a.passwordHash }
func (a *Account) ProviderID() string     { return a.providerID }
func (a *Account) AccessToken() string    { return a.accessToken }
func (a *Account) RefreshToken() string   { return a.refreshToken }
func (a *Account) TokenExpiry() time.Time { return a.tokenExpiry }
func (a *Account) Version() int           { return a.version }

func (a *Account) SetUsername(username string) { a.username = username }
func (a *Account) SetEmail(email string)       { a.email = NormalizeEmail(email) }
func (a *Account) SetPasswordHash(hash string) { a.passwordHash = hash }
func (a *Account) SetProviderID(id string)     { a.providerID = id }
func (a *Account) SetVersion(v int)            { a.version = v }

// SetTokens replaces the stored provider tokens. An empty refresh token keeps the current one,
// since providers only send a refresh token when they rotate it.
func (a *Account) SetTokens(access, refresh string, expiry time.Time) {
	a.accessToken = access
	if refresh != "" {
		a.refreshToken = refresh
	}
	a.tokenExpiry = expiry
}

// HasPassword reports whether a password credential is set.
func (a *Account) HasPassword() bool { return a.passwordHash != "" }

// HasExternalIdentity reports whether a provider identity is linked.
func (a *Account) HasExternalIdentity() bool { return a.providerID != "" }

// Capabilities returns the account's credential capabilities.
func (a *Account) Capabilities() Capabilities {
	return Capabilities{HasPassword: a.HasPassword(), HasExternalIdentity: a.HasExternalIdentity()}
}

// TokenExpired reports whether the access token has a known expiry that has passed.
func (a *Account) TokenExpired(now time.Time) bool {
	return !a.tokenExpiry.IsZero() && !now.Before(a.tokenExpiry)
}

// Validate checks the username, email format and the credential invariant.
func (a *Account) Validate() error {
	if strings.TrimSpace(a.username) == "" {
		return ErrMissingUsername
	}
	if err := ValidateEmail(a.email); err != nil {
		return err
	}
	if !a.HasPassword() && !a.HasExternalIdentity() {
		return ErrMissingCredential
	}
	return nil
}

// MarshalJSON renders the account without credentials or tokens.
func (a *Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string    `json:"id"`
		Username  string    `json:"username"`
		Email     string    `json:"email"`
		Linked    bool      `json:"spotify_linked"`
		CreatedAt time.Time `json:"created_at"`
	}{a.id, a.username, a.email, a.HasExternalIdentity(), a.createdAt})
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail accepts local@domain where both segments are non-empty.
func ValidateEmail(email string) error {
	if strings.ContainsAny(email, " \t\r\n") || strings.Count(email, "@") != 1 {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	local, domain, _ := strings.Cut(email, "@")
	if local == "" || domain == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}
