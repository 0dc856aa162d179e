package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrStateMismatch      = fmt.Errorf("state mismatch")
	ErrMissingCode        = fmt.Errorf("authorization code missing")
	ErrExchangeFailed     = fmt.Errorf("token exchange failed")
	ErrProfileFetchFailed = fmt.Errorf("profile fetch failed")
	ErrNoEmail            = fmt.Errorf("%w: profile has no email", ErrProfileFetchFailed)
	ErrDuplicateAccount   = fmt.Errorf("email or Spotify identity already belongs to another account")
	ErrReauthRequired     = fmt.Errorf("re-authentication required")
	ErrUpstream           = fmt.Errorf("upstream error")
	ErrAuthFailed         = fmt.Errorf("authentication failed")

	// Local account errors
	ErrUsernameTaken      = fmt.Errorf("username already taken")
	ErrEmailTaken         = fmt.Errorf("email already registered")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrPasswordMismatch   = fmt.Errorf("password and confirmation do not match")
	ErrInvalidCredentials = fmt.Errorf("invalid username or password")
)

// UpstreamError is a non-success response from the provider's resource API.
// Message is safe to show to end users; the provider's body is only logged.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrUpstream, e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

func newUpstreamError(status int) *UpstreamError {
	text := http.StatusText(status)
	if status == 0 || text == "" {
		text = "provider unavailable"
	}
	return &UpstreamError{Status: status, Message: "Spotify request failed: " + text}
}

// Callback error codes carried in the sign-in redirect.
const (
	CodeStateMismatch       = "state_mismatch"
	CodeNoCode              = "no_code"
	CodeTokenExchangeFailed = "token_exchange_failed"
	CodeNoEmail             = "no_email"
	CodeDuplicateAccount    = "duplicate_account"
	CodeAuthFailed          = "auth_failed"
)

var callbackMessages = map[string]string{
	CodeStateMismatch:       "Your sign-in request expired or could not be verified. Please try again.",
	CodeNoCode:              "Spotify did not return an authorization code. Please try again.",
	CodeTokenExchangeFailed: "We couldn't complete sign-in with Spotify. Please try again.",
	CodeNoEmail:             "Your Spotify account has no email address, which is required to sign in.",
	CodeDuplicateAccount:    "This email or Spotify account is already linked to a different account.",
	CodeAuthFailed:          "Sign-in failed. Please try again.",
}

// CallbackCode maps a flow error onto the fixed set of callback error codes.
func CallbackCode(err error) string {
	switch {
	case errors.Is(err, ErrStateMismatch):
		return CodeStateMismatch
	case errors.Is(err, ErrMissingCode):
		return CodeNoCode
	case errors.Is(err, ErrExchangeFailed):
		return CodeTokenExchangeFailed
	case errors.Is(err, ErrNoEmail):
		return CodeNoEmail
	case errors.Is(err, ErrDuplicateAccount):
		return CodeDuplicateAccount
	default:
		return CodeAuthFailed
	}
}

// CallbackMessage returns the user-facing text for a callback error code.
// Unknown codes get the generic failure message.
func CallbackMessage(code string) string {
	if msg, ok := callbackMessages[code]; ok {
		return msg
	}
	return callbackMessages[CodeAuthFailed]
}

// KnownCallbackCode reports whether code is one of the callback error codes.
func KnownCallbackCode(code string) bool {
	_, ok := callbackMessages[code]
	return ok
}
