package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/auth"
	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/services"
	"github.com/desertthunder/setlist/internal/shared"
	"golang.org/x/time/rate"
)

// MaxImportTracks bounds the number of tracks accepted by a single import.
const MaxImportTracks = 50

// SongStore is the song persistence used by the [Importer].
type SongStore interface {
	Create(ctx context.Context, song *models.Song) error
	GetBySpotifyID(ctx context.Context, spotifyID string) (*models.Song, error)
}

// PlaylistStore is the playlist persistence used by the [Importer].
type PlaylistStore interface {
	Get(ctx context.Context, id string) (*models.Playlist, error)
	AddSong(ctx context.Context, playlistID, songID string) (bool, error)
}

var (
	_ SongStore     = (*repositories.SongRepository)(nil)
	_ PlaylistStore = (*repositories.PlaylistRepository)(nil)
)

// TrackImportResult is the outcome for one requested catalog track.
type TrackImportResult struct {
	TrackID string       // Catalog track ID
	Song    *models.Song // Library song (nil on failure)
	Created bool         // Song was newly added to the library
	Added   bool         // Song was appended to the playlist
	Error   error        // Error if the track could not be imported
}

// ImportResult contains all data from a catalog import.
type ImportResult struct {
	Playlist *models.Playlist
	Tracks   []TrackImportResult
	Added    int // Tracks appended to the playlist
	Skipped  int // Tracks already in the playlist
	Failed   int // Tracks that could not be imported
}

// Importer copies catalog tracks into the song library and appends them to a playlist.
type Importer struct {
	catalog   services.Catalog
	songs     SongStore
	playlists PlaylistStore
	limiter   *rate.Limiter
	logger    *log.Logger
}

// NewImporter creates an importer that issues at most requestsPerSecond catalog lookups per second.
// A non-positive rate disables throttling.
func NewImporter(catalog services.Catalog, songs SongStore, playlists PlaylistStore, requestsPerSecond float64, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.Default()
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &Importer{
		catalog:   catalog,
		songs:     songs,
		playlists: playlists,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
	}
}

// Import looks up each catalog track for account, saves it to the song library when it is not there yet
// and appends it to the playlist, which must be owned by account.
//
// Per-track failures are recorded in the result. A required re-authentication or a cancelled context stops
// the import and is returned together with the partial result.
func (i *Importer) Import(ctx context.Context, account *models.Account, playlistID string, trackIDs []string, progress chan<- ProgressUpdate) (*ImportResult, error) {
	if i.catalog == nil {
		return nil, fmt.Errorf("%w: catalog not initialized", shared.ErrServiceUnavailable)
	}

	ids := uniqueIDs(trackIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: track_ids", shared.ErrMissingArgument)
	}
	if len(ids) > MaxImportTracks {
		return nil, fmt.Errorf("%w: at most %d tracks per import", shared.ErrInvalidArgument, MaxImportTracks)
	}

	playlist, err := i.playlists.Get(ctx, playlistID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistID)
		}
		return nil, err
	}
	if !playlist.OwnedBy(account.ID()) {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrForbidden, playlistID)
	}

	result := &ImportResult{Playlist: playlist, Tracks: make([]TrackImportResult, 0, len(ids))}
	total := len(ids)
	sendProgress(progress, resolvePlaylistUpdate(playlist, total))

	for n, trackID := range ids {
		sendProgress(progress, lookupTrackUpdate(n+1, total, trackID))

		res := i.importTrack(ctx, account, playlist.ID(), trackID)
		if res.Error != nil && (errors.Is(res.Error, auth.ErrReauthRequired) || ctx.Err() != nil) {
			return result, res.Error
		}

		result.Tracks = append(result.Tracks, res)
		switch {
		case res.Error != nil:
			result.Failed++
			i.logger.Warn("catalog import failed", "playlist", playlist.ID(), "track", trackID, "error", res.Error)
			sendProgress(progress, failedTrackUpdate(n+1, total, trackID, res.Error))
		case res.Added:
			result.Added++
			sendProgress(progress, savedSongUpdate(n+1, total, res.Song))
		default:
			result.Skipped++
			sendProgress(progress, savedSongUpdate(n+1, total, res.Song))
		}
	}

	i.logger.Info("catalog import finished", "playlist", playlist.ID(), "account", account.ID(),
		"added", result.Added, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

func (i *Importer) importTrack(ctx context.Context, account *models.Account, playlistID, trackID string) TrackImportResult {
	res := TrackImportResult{TrackID: trackID}

	song, err := i.songs.GetBySpotifyID(ctx, trackID)
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrNotFound):
		song, err = i.fetchSong(ctx, account, trackID)
		if err != nil {
			res.Error = err
			return res
		}
		res.Created = true
	default:
		res.Error = err
		return res
	}

	added, err := i.playlists.AddSong(ctx, playlistID, song.ID())
	if err != nil {
		res.Error = err
		return res
	}

	res.Song = song
	res.Added = added
	return res
}

// fetchSong looks the track up in the catalog and saves it. A concurrent import of the same track is
// resolved by reading back the stored song.
func (i *Importer) fetchSong(ctx context.Context, account *models.Account, trackID string) (*models.Song, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	track, err := i.catalog.Track(ctx, account, trackID)
	if err != nil {
		return nil, err
	}

	song := track.ToSong(account.ID())
	if err := i.songs.Create(ctx, song); err != nil {
		if repositories.IsDuplicate(err, "spotify_id") {
			return i.songs.GetBySpotifyID(ctx, trackID)
		}
		return nil, err
	}
	return song, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
