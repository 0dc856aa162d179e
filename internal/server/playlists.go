package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/formatter"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/shared"
	"github.com/go-chi/chi/v5"
)

// PlaylistStore is the playlist persistence used by the HTTP handlers.
type PlaylistStore interface {
	Create(ctx context.Context, playlist *models.Playlist) error
	Get(ctx context.Context, id string) (*models.Playlist, error)
	Update(ctx context.Context, playlist *models.Playlist) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, criteria map[string]any) ([]*models.Playlist, error)
	AddSong(ctx context.Context, playlistID, songID string) (bool, error)
	RemoveSong(ctx context.Context, playlistID, songID string) (bool, error)
	Export(ctx context.Context, playlistID string) (*models.PlaylistExport, error)
}

var _ PlaylistStore = (*repositories.PlaylistRepository)(nil)

// PlaylistHandler serves playlist CRUD, membership and export.
type PlaylistHandler struct {
	playlists PlaylistStore
	songs     SongStore
	logger    *log.Logger
}

type playlistRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	CoverImage  *string `json:"cover_image"`
	Public      *bool   `json:"public"`
}

// apply copies the fields present in the request onto p.
func (req playlistRequest) apply(p *models.Playlist) {
	if req.Title != nil {
		p.SetTitle(*req.Title)
	}
	if req.Description != nil {
		p.SetDescription(*req.Description)
	}
	if req.CoverImage != nil {
		p.SetCoverImage(*req.CoverImage)
	}
	if req.Public != nil {
		p.SetPublic(*req.Public)
	}
}

func (h *PlaylistHandler) Routes() []Route {
	return []Route{
		{http.MethodGet, "/playlists", h.List},
		{http.MethodPost, "/playlists", h.Create},
		{http.MethodGet, "/playlists/{id}", h.Get},
		{http.MethodPut, "/playlists/{id}", h.Update},
		{http.MethodDelete, "/playlists/{id}", h.Delete},
		{http.MethodPost, "/playlists/{id}/songs", h.AddSong},
		{http.MethodDelete, "/playlists/{id}/songs/{songID}", h.RemoveSong},
		{http.MethodGet, "/playlists/{id}/export", h.Export},
	}
}

// List returns public playlists, or the caller's own with ?mine=true. ?q= filters by title.
func (h *PlaylistHandler) List(w http.ResponseWriter, r *http.Request) {
	criteria := map[string]any{"q": r.URL.Query().Get("q")}

	if mine, _ := strconv.ParseBool(r.URL.Query().Get("mine")); mine {
		rc, ok := requireAccount(w, r)
		if !ok {
			return
		}
		criteria["created_by"] = rc.AccountID()
	} else {
		criteria["public"] = true
	}

	playlists, err := h.playlists.List(r.Context(), criteria)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if playlists == nil {
		playlists = []*models.Playlist{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": playlists})
}

func (h *PlaylistHandler) Create(w http.ResponseWriter, r *http.Request) {
	rc, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req playlistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	playlist := models.NewPlaylist(0, "", rc.AccountID())
	req.apply(playlist)
	if err := h.playlists.Create(r.Context(), playlist); err != nil {
		handleError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, playlist)
}

// Get returns a playlist with its songs. Private playlists of other accounts are reported as missing.
func (h *PlaylistHandler) Get(w http.ResponseWriter, r *http.Request) {
	playlist, ok := h.visible(w, r)
	if !ok {
		return
	}

	export, err := h.playlists.Export(r.Context(), playlist.ID())
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *PlaylistHandler) Update(w http.ResponseWriter, r *http.Request) {
	playlist, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req playlistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	req.apply(playlist)
	if err := h.playlists.Update(r.Context(), playlist); err != nil {
		handleError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, playlist)
}

func (h *PlaylistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	playlist, ok := h.owned(w, r)
	if !ok {
		return
	}

	if err := h.playlists.Delete(r.Context(), playlist.ID()); err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddSong appends a library song. It answers 201 when the song was added and 200 when it was already present.
func (h *PlaylistHandler) AddSong(w http.ResponseWriter, r *http.Request) {
	playlist, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req struct {
		SongID string `json:"song_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}
	if req.SongID == "" {
		handleError(w, h.logger, fmt.Errorf("%w: song_id", shared.ErrMissingArgument))
		return
	}

	if _, err := h.songs.Get(r.Context(), req.SongID); err != nil {
		handleError(w, h.logger, err)
		return
	}

	added, err := h.playlists.AddSong(r.Context(), playlist.ID(), req.SongID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"playlist_id": playlist.ID(), "song_id": req.SongID, "added": added})
}

func (h *PlaylistHandler) RemoveSong(w http.ResponseWriter, r *http.Request) {
	playlist, ok := h.owned(w, r)
	if !ok {
		return
	}

	removed, err := h.playlists.RemoveSong(r.Context(), playlist.ID(), chi.URLParam(r, "songID"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if !removed {
		handleError(w, h.logger, shared.ErrSongNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export renders the playlist as csv, markdown, text or json (?format=).
func (h *PlaylistHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := formatter.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	playlist, ok := h.visible(w, r)
	if !ok {
		return
	}

	export, err := h.playlists.Export(r.Context(), playlist.ID())
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	data, err := formatter.Export(export, format)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", formatter.Filename(playlist, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *PlaylistHandler) visible(w http.ResponseWriter, r *http.Request) (*models.Playlist, bool) {
	playlist, err := h.playlists.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return nil, false
	}
	if !playlist.VisibleTo(FromContext(r.Context()).AccountID()) {
		handleError(w, h.logger, shared.ErrPlaylistNotFound)
		return nil, false
	}
	return playlist, true
}

func (h *PlaylistHandler) owned(w http.ResponseWriter, r *http.Request) (*models.Playlist, bool) {
	rc, ok := requireAccount(w, r)
	if !ok {
		return nil, false
	}

	playlist, err := h.playlists.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return nil, false
	}
	if !playlist.VisibleTo(rc.AccountID()) {
		handleError(w, h.logger, shared.ErrPlaylistNotFound)
		return nil, false
	}
	if !playlist.OwnedBy(rc.AccountID()) {
		handleError(w, h.logger, shared.ErrForbidden)
		return nil, false
	}
	return playlist, true
}
