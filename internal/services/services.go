package services

import (
	"context"

	"github.com/desertthunder/setlist/internal/models"
)

// Catalog searches and looks up tracks in an external music catalog on behalf of an account.
type Catalog interface {
	// SearchTracks returns up to limit tracks matching query.
	SearchTracks(ctx context.Context, account *models.Account, query string, limit int) ([]Track, error)

	// Track retrieves a single track by its catalog ID.
	Track(ctx context.Context, account *models.Account, trackID string) (*Track, error)

	// Name returns the name of the catalog (e.g., "Spotify")
	Name() string
}

// Caller issues authenticated API requests for an account. [auth.Client] implements it.
type Caller interface {
	Call(ctx context.Context, account *models.Account, method, path string, body, out any) error
}

// Track represents a catalog track
type Track struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album,omitempty"`
	Duration int    `json:"duration"` // Duration in seconds
	ISRC     string `json:"isrc,omitempty"`
	Link     string `json:"link,omitempty"`
}

// ToSong converts the track into an unsaved library song added by accountID.
func (t Track) ToSong(accountID string) *models.Song {
	song := models.NewSong(0, t.Title, t.Artist, accountID)
	song.SetAlbum(t.Album)
	song.SetDuration(t.Duration)
	song.SetSpotify(t.ID, t.Link)
	return song
}
