package server

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/shared"
	"github.com/go-chi/chi/v5"
)

// SongStore is the song persistence used by the HTTP handlers.
type SongStore interface {
	Create(ctx context.Context, song *models.Song) error
	Get(ctx context.Context, id string) (*models.Song, error)
	Update(ctx context.Context, song *models.Song) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, criteria map[string]any) ([]*models.Song, error)
}

var _ SongStore = (*repositories.SongRepository)(nil)

// SongHandler serves the shared song library. Only the account that added a song may change it.
type SongHandler struct {
	songs  SongStore
	logger *log.Logger
}

type songRequest struct {
	Title       *string `json:"title"`
	Artist      *string `json:"artist"`
	Album       *string `json:"album"`
	Duration    *int    `json:"duration"`
	Genre       *string `json:"genre"`
	SpotifyID   *string `json:"spotify_id"`
	SpotifyLink *string `json:"spotify_link"`
}

func (req songRequest) apply(s *models.Song) {
	if req.Title != nil {
		s.SetTitle(*req.Title)
	}
	if req.Artist != nil {
		s.SetArtist(*req.Artist)
	}
	if req.Album != nil {
		s.SetAlbum(*req.Album)
	}
	if req.Duration != nil {
		s.SetDuration(max(*req.Duration, 0))
	}
	if req.Genre != nil {
		s.SetGenre(*req.Genre)
	}
	if req.SpotifyID != nil || req.SpotifyLink != nil {
		id, link := s.SpotifyID(), s.SpotifyLink()
		if req.SpotifyID != nil {
			id = *req.SpotifyID
		}
		if req.SpotifyLink != nil {
			link = *req.SpotifyLink
		}
		s.SetSpotify(id, link)
	}
}

func (h *SongHandler) Routes() []Route {
	return []Route{
		{http.MethodGet, "/songs", h.List},
		{http.MethodPost, "/songs", h.Create},
		{http.MethodGet, "/songs/{id}", h.Get},
		{http.MethodPut, "/songs/{id}", h.Update},
		{http.MethodDelete, "/songs/{id}", h.Delete},
	}
}

// List returns library songs filtered by ?q=, ?genre= and ?added_by=.
func (h *SongHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	songs, err := h.songs.List(r.Context(), map[string]any{
		"q":        query.Get("q"),
		"genre":    query.Get("genre"),
		"added_by": query.Get("added_by"),
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if songs == nil {
		songs = []*models.Song{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"songs": songs})
}

func (h *SongHandler) Create(w http.ResponseWriter, r *http.Request) {
	rc, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req songRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	song := models.NewSong(0, "", "", rc.AccountID())
	req.apply(song)
	if err := h.songs.Create(r.Context(), song); err != nil {
		handleError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, song)
}

func (h *SongHandler) Get(w http.ResponseWriter, r *http.Request) {
	song, err := h.songs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

func (h *SongHandler) Update(w http.ResponseWriter, r *http.Request) {
	song, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req songRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	req.apply(song)
	if err := h.songs.Update(r.Context(), song); err != nil {
		handleError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

func (h *SongHandler) Delete(w http.ResponseWriter, r *http.Request) {
	song, ok := h.owned(w, r)
	if !ok {
		return
	}

	if err := h.songs.Delete(r.Context(), song.ID()); err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SongHandler) owned(w http.ResponseWriter, r *http.Request) (*models.Song, bool) {
	rc, ok := requireAccount(w, r)
	if !ok {
		return nil, false
	}

	song, err := h.songs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return nil, false
	}
	if song.AddedBy() != rc.AccountID() {
		handleError(w, h.logger, shared.ErrForbidden)
		return nil, false
	}
	return song, true
}
