package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/shared"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// SpotifyImage represents an image (album art, artist photo, etc.).
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type externalIDs struct {
	ISRC string `json:"isrc"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyTrack represents a full track object from Spotify.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int             `json:"duration_ms"`
	Explicit     bool            `json:"explicit"`
	ExternalIDs  externalIDs     `json:"external_ids"`
	ExternalURLs externalURLs    `json:"external_urls"`
	Popularity   int             `json:"popularity"`
	URI          string          `json:"uri"`
}

// SpotifyArtist represents an artist object.
type SpotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Genres []string       `json:"genres"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyAlbum represents an album object.
type SpotifyAlbum struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ReleaseDate string         `json:"release_date"`
	TotalTracks int            `json:"total_tracks"`
	Images      []SpotifyImage `json:"images"`
	URI         string         `json:"uri"`
}

// SpotifySearchResponse is the body of a track search.
type SpotifySearchResponse struct {
	Tracks struct {
		Items []SpotifyTrack `json:"items"`
		Total int            `json:"total"`
	} `json:"tracks"`
}

// SpotifyCatalog implements [Catalog] against the Spotify Web API.
// Token handling (refresh on expiry or 401) is left to the [Caller].
type SpotifyCatalog struct {
	client Caller
}

// NewSpotifyCatalog creates a catalog that issues requests through client.
func NewSpotifyCatalog(client Caller) *SpotifyCatalog {
	return &SpotifyCatalog{client: client}
}

func (s *SpotifyCatalog) Name() string {
	return "Spotify"
}

// SearchTracks searches the catalog for tracks.
func (s *SpotifyCatalog) SearchTracks(ctx context.Context, account *models.Account, query string, limit int) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query", shared.ErrMissingArgument)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", fmt.Sprint(limit))

	var resp SpotifySearchResponse
	if err := s.client.Call(ctx, account, http.MethodGet, "/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(resp.Tracks.Items))
	for _, item := range resp.Tracks.Items {
		tracks = append(tracks, toTrack(item))
	}
	return tracks, nil
}

// Track retrieves a single track by ID.
func (s *SpotifyCatalog) Track(ctx context.Context, account *models.Account, trackID string) (*Track, error) {
	if trackID == "" {
		return nil, fmt.Errorf("%w: track id", shared.ErrMissingArgument)
	}

	var st SpotifyTrack
	endpoint := fmt.Sprintf("/tracks/%s", url.PathEscape(trackID))
	if err := s.client.Call(ctx, account, http.MethodGet, endpoint, nil, &st); err != nil {
		return nil, err
	}

	track := toTrack(st)
	return &track, nil
}

func toTrack(st SpotifyTrack) Track {
	track := Track{
		ID:       st.ID,
		Title:    st.Name,
		Album:    st.Album.Name,
		Duration: st.DurationMS / 1000,
		ISRC:     st.ExternalIDs.ISRC,
		Link:     st.ExternalURLs.Spotify,
	}

	names := make([]string, 0, len(st.Artists))
	for _, artist := range st.Artists {
		names = append(names, artist.Name)
	}
	track.Artist = strings.Join(names, ", ")

	return track
}
