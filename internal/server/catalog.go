package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/auth"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/services"
	"github.com/desertthunder/setlist/internal/shared"
	"github.com/desertthunder/setlist/internal/tasks"
)

// TrackImporter imports catalog tracks into a playlist. [tasks.Importer] implements it.
type TrackImporter interface {
	Import(ctx context.Context, account *models.Account, playlistID string, trackIDs []string, progress chan<- tasks.ProgressUpdate) (*tasks.ImportResult, error)
}

// CatalogHandler serves catalog search and import for accounts with a linked Spotify identity.
type CatalogHandler struct {
	catalog  services.Catalog
	importer TrackImporter
	metrics  *Metrics
	logger   *log.Logger
}

type importRequest struct {
	PlaylistID string   `json:"playlist_id"`
	TrackIDs   []string `json:"track_ids"`
}

type importedTrack struct {
	TrackID string       `json:"track_id"`
	Song    *models.Song `json:"song,omitempty"`
	Created bool         `json:"created"`
	Added   bool         `json:"added"`
	Error   string       `json:"error,omitempty"`
}

func (h *CatalogHandler) Routes() []Route {
	return []Route{
		{http.MethodGet, "/catalog/search", h.Search},
		{http.MethodPost, "/catalog/import", h.Import},
	}
}

// Search finds catalog tracks (?q=, optional ?limit=).
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	rc, ok := requireAccount(w, r)
	if !ok {
		return
	}

	if h.catalog == nil {
		handleError(w, h.logger, fmt.Errorf("%w: catalog not configured", shared.ErrServiceUnavailable))
		return
	}

	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			handleError(w, h.logger, fmt.Errorf("%w: limit must be a positive integer", shared.ErrInvalidArgument))
			return
		}
		limit = n
	}

	tracks, err := h.catalog.SearchTracks(r.Context(), rc.Account, query.Get("q"), limit)
	if err != nil {
		h.catalogError(w, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

// Import copies catalog tracks into the library and appends them to one of the caller's playlists.
func (h *CatalogHandler) Import(w http.ResponseWriter, r *http.Request) {
	rc, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req importRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}
	if req.PlaylistID == "" {
		handleError(w, h.logger, fmt.Errorf("%w: playlist_id", shared.ErrMissingArgument))
		return
	}

	result, err := h.importer.Import(r.Context(), rc.Account, req.PlaylistID, req.TrackIDs, nil)
	if result != nil {
		h.metrics.ObserveImport(result.Added, result.Skipped, result.Failed)
	}
	if err != nil {
		h.catalogError(w, rc, err)
		return
	}

	tracks := make([]importedTrack, 0, len(result.Tracks))
	for _, res := range result.Tracks {
		track := importedTrack{TrackID: res.TrackID, Song: res.Song, Created: res.Created, Added: res.Added}
		if res.Error != nil {
			track.Error = publicImportError(res.Error)
		}
		tracks = append(tracks, track)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"playlist_id": result.Playlist.ID(),
		"added":       result.Added,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
		"tracks":      tracks,
	})
}

func (h *CatalogHandler) catalogError(w http.ResponseWriter, rc *RequestContext, err error) {
	if errors.Is(err, auth.ErrReauthRequired) {
		h.logger.Info("catalog access needs re-authorization", "account", rc.AccountID())
	}
	handleError(w, h.logger, err)
}

// publicImportError keeps internal error detail out of import responses.
func publicImportError(err error) string {
	var upstream *auth.UpstreamError
	if errors.As(err, &upstream) {
		if upstream.Status == http.StatusNotFound {
			return "track not found"
		}
		return upstream.Message
	}
	return "import failed"
}
