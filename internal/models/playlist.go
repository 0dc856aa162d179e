package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Playlist is an ordered list of songs created by an account.
type Playlist struct {
	record
	title       string
	description string
	coverImage  string
	createdBy   string
	public      bool
	songIDs     []string
}

// NewPlaylist creates an unsaved, private playlist.
func NewPlaylist(sequence int, title, createdBy string) *Playlist {
	return &Playlist{record: newRecord(sequence), title: title, createdBy: createdBy}
}

func (p *Playlist) Title() string       { return p.title }
func (p *Playlist) Description() string { return p.description }
func (p *Playlist) CoverImage() string  { return p.coverImage }
func (p *Playlist) CreatedBy() string   { return p.createdBy }
func (p *Playlist) Public() bool        { return p.public }
func (p *Playlist) SongIDs() []string   { return slices.Clone(p.songIDs) }

func (p *Playlist) SetTitle(v string)       { p.title = v }
func (p *Playlist) SetDescription(v string) { p.description = v }
func (p *Playlist) SetCoverImage(v string)  { p.coverImage = v }
func (p *Playlist) SetCreatedBy(v string)   { p.createdBy = v }
func (p *Playlist) SetPublic(v bool)        { p.public = v }
func (p *Playlist) SetSongIDs(ids []string) { p.songIDs = slices.Clone(ids) }

// HasSong reports whether the song is already on the playlist.
func (p *Playlist) HasSong(songID string) bool { return slices.Contains(p.songIDs, songID) }

// AddSong appends a song, returning false if it was already present.
func (p *Playlist) AddSong(songID string) bool {
	if p.HasSong(songID) {
		return false
	}
	p.songIDs = append(p.songIDs, songID)
	return true
}

// RemoveSong drops a song, returning false if it was not present.
func (p *Playlist) RemoveSong(songID string) bool {
	i := slices.Index(p.songIDs, songID)
	if i < 0 {
		return false
	}
	p.songIDs = slices.Delete(p.songIDs, i, i+1)
	return true
}

// OwnedBy reports whether accountID created the playlist.
func (p *Playlist) OwnedBy(accountID string) bool { return accountID != "" && p.createdBy == accountID }

// VisibleTo reports whether accountID may read the playlist. Public playlists are visible to everyone.
func (p *Playlist) VisibleTo(accountID string) bool { return p.public || p.OwnedBy(accountID) }

func (p *Playlist) Validate() error {
	if strings.TrimSpace(p.title) == "" {
		return fmt.Errorf("%w: playlist title is required", ErrValidation)
	}
	if p.createdBy == "" {
		return fmt.Errorf("%w: playlist created_by is required", ErrValidation)
	}
	return nil
}

func (p *Playlist) MarshalJSON() ([]byte, error) {
	songs := p.songIDs
	if songs == nil {
		songs = []string{}
	}
	return json.Marshal(struct {
		ID          string    `json:"id"`
		Title       string    `json:"title"`
		Description string    `json:"description,omitempty"`
		CoverImage  string    `json:"cover_image,omitempty"`
		CreatedBy   string    `json:"created_by"`
		Public      bool      `json:"public"`
		Songs       []string  `json:"songs"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}{p.id, p.title, p.description, p.coverImage, p.createdBy, p.public, songs, p.createdAt, p.updatedAt})
}

// PlaylistExport is a playlist together with its songs in playlist order.
type PlaylistExport struct {
	Playlist *Playlist `json:"playlist"`
	Songs    []*Song   `json:"songs"`
}
