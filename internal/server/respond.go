package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/auth"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/shared"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}

// writeReauth tells the client to restart the provider authorization.
func writeReauth(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:    "reauth_required",
		Message:  "Your Spotify session has expired. Please connect your account again.",
		Redirect: startPath,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", shared.ErrInvalidInput)
	}
	return nil
}

// handleError maps domain errors onto status codes. Unexpected errors are logged and answered with a
// generic 500 so internal detail never reaches the client.
func handleError(w http.ResponseWriter, logger *log.Logger, err error) {
	var upstream *auth.UpstreamError

	switch {
	case errors.Is(err, auth.ErrReauthRequired):
		writeReauth(w)
	case errors.As(err, &upstream):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "upstream_error", Message: upstream.Message})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, shared.ErrForbidden):
		writeError(w, http.StatusForbidden, "you do not have access to this resource")
	case errors.Is(err, repositories.ErrNotFound),
		errors.Is(err, shared.ErrPlaylistNotFound),
		errors.Is(err, shared.ErrSongNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrUsernameTaken),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, repositories.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repositories.ErrVersionConflict):
		writeError(w, http.StatusConflict, "the resource was modified concurrently, please retry")
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidEmail),
		errors.Is(err, models.ErrMissingUsername),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shared.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
