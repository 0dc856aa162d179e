package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Song is a track in the shared library, optionally imported from the Spotify catalog.
type Song struct {
	record
	title       string
	artist      string
	album       string
	duration    int // seconds
	genre       string
	spotifyID   string
	spotifyLink string
	addedBy     string
}

// NewSong creates an unsaved song added by the given account.
func NewSong(sequence int, title, artist, addedBy string) *Song {
	return &Song{record: newRecord(sequence), title: title, artist: artist, addedBy: addedBy}
}

func (s *Song) Title() string       { return s.title }
func (s *Song) Artist() string      { return s.artist }
func (s *Song) Album() string       { return s.album }
func (s *Song) Duration() int       { return s.duration }
func (s *Song) Genre() string       { return s.genre }
func (s *Song) SpotifyID() string   { return s.spotifyID }
func (s *Song) SpotifyLink() string { return s.spotifyLink }
func (s *Song) AddedBy() string     { return s.addedBy }

func (s *Song) SetTitle(v string)   { s.title = v }
func (s *Song) SetArtist(v string)  { s.artist = v }
func (s *Song) SetAlbum(v string)   { s.album = v }
func (s *Song) SetDuration(v int)   { s.duration = v }
func (s *Song) SetGenre(v string)   { s.genre = v }
func (s *Song) SetAddedBy(v string) { s.addedBy = v }

// SetSpotify records the catalog identity of an imported song.
func (s *Song) SetSpotify(id, link string) {
	s.spotifyID = id
	s.spotifyLink = link
}

// Validate requires a title, an artist and the adding account.
func (s *Song) Validate() error {
	switch {
	case strings.TrimSpace(s.title) == "":
		return fmt.Errorf("%w: song title is required", ErrValidation)
	case strings.TrimSpace(s.artist) == "":
		return fmt.Errorf("%w: song artist is required", ErrValidation)
	case s.addedBy == "":
		return fmt.Errorf("%w: song added_by is required", ErrValidation)
	}
	return nil
}

func (s *Song) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID          string    `json:"id"`
		Title       string    `json:"title"`
		Artist      string    `json:"artist"`
		Album       string    `json:"album,omitempty"`
		Duration    int       `json:"duration"`
		Genre       string    `json:"genre,omitempty"`
		SpotifyID   string    `json:"spotify_id,omitempty"`
		SpotifyLink string    `json:"spotify_link,omitempty"`
		AddedBy     string    `json:"added_by"`
		CreatedAt   time.Time `json:"created_at"`
	}{s.id, s.title, s.artist, s.album, s.duration, s.genre, s.spotifyID, s.spotifyLink, s.addedBy, s.createdAt})
}
