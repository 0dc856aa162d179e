package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/setlist/internal/models"
	"github.com/desertthunder/setlist/internal/shared"
)

const playlistColumns = `id, sequence, title, description, cover_image, created_by, public, created_at, updated_at,
	deleted_at`

var _ models.Repository[*models.Playlist] = (*PlaylistRepository)(nil)

// PlaylistRepository implements [models.Repository] for [models.Playlist] persistence.
//
// Song membership lives in playlist_songs and is ordered by position.
type PlaylistRepository struct {
	db *sql.DB
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db *sql.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// Create inserts a new playlist and its initial songs
func (r *PlaylistRepository) Create(ctx context.Context, playlist *models.Playlist) error {
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "playlists")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO playlists (id, sequence, title, description, cover_image, created_by, public, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		id,
		sequence,
		playlist.Title(),
		playlist.Description(),
		playlist.CoverImage(),
		playlist.CreatedBy(),
		playlist.Public(),
		playlist.CreatedAt(),
		playlist.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert playlist: %w", err)
	}

	for i, songID := range playlist.SongIDs() {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO playlist_songs (playlist_id, song_id, position, added_at) VALUES (?, ?, ?, ?)",
			id, songID, i+1, playlist.CreatedAt(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert playlist song %s: %w", songID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit playlist: %w", err)
	}

	playlist.SetID(id)
	playlist.SetSequence(sequence)
	return nil
}

// Get retrieves a playlist by ID with its song IDs, excluding soft-deleted playlists
func (r *PlaylistRepository) Get(ctx context.Context, id string) (*models.Playlist, error) {
	query := fmt.Sprintf("SELECT %s FROM playlists WHERE id = ? AND deleted_at IS NULL", playlistColumns)

	playlist, err := scanPlaylist(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := r.loadSongIDs(ctx, playlist); err != nil {
		return nil, err
	}

	return playlist, nil
}

// Update modifies the playlist's metadata. Membership is changed with AddSong and RemoveSong.
func (r *PlaylistRepository) Update(ctx context.Context, playlist *models.Playlist) error {
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	playlist.SetUpdatedAt(now)

	query := `
		UPDATE playlists
		SET title = ?, description = ?, cover_image = ?, public = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		playlist.Title(),
		playlist.Description(),
		playlist.CoverImage(),
		playlist.Public(),
		now,
		playlist.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}

	return affected(result, "playlist", playlist.ID())
}

// Delete soft-deletes a playlist by ID
func (r *PlaylistRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE playlists
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}

	return affected(result, "playlist", id)
}

// List retrieves playlists matching the given criteria, excluding soft-deleted playlists.
//
// Supported criteria: "public" (bool), "created_by" (string) and "q" (substring of title).
func (r *PlaylistRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Playlist, error) {
	query := fmt.Sprintf("SELECT %s FROM playlists WHERE deleted_at IS NULL", playlistColumns)
	args := []any{}

	if public, ok := criteria["public"].(bool); ok {
		query += " AND public = ?"
		args = append(args, public)
	}

	if createdBy, ok := criteria["created_by"].(string); ok && createdBy != "" {
		query += " AND created_by = ?"
		args = append(args, createdBy)
	}

	if q, ok := criteria["q"].(string); ok && q != "" {
		query += " AND title LIKE ?"
		args = append(args, "%"+q+"%")
	}

	query += " ORDER BY sequence DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}

	var playlists []*models.Playlist
	for rows.Next() {
		playlist, err := scanPlaylist(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		playlists = append(playlists, playlist)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	// Membership is loaded after the cursor is released; in-memory databases run on a single connection.
	for _, playlist := range playlists {
		if err := r.loadSongIDs(ctx, playlist); err != nil {
			return nil, err
		}
	}

	return playlists, nil
}

// AddSong appends a song to the end of the playlist. It reports false if the song was already present.
func (r *PlaylistRepository) AddSong(ctx context.Context, playlistID, songID string) (bool, error) {
	query := `
		INSERT INTO playlist_songs (playlist_id, song_id, position, added_at)
		SELECT ?, ?, COALESCE(MAX(position), 0) + 1, ?
		FROM playlist_songs
		WHERE playlist_id = ?
		ON CONFLICT (playlist_id, song_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, playlistID, songID, time.Now(), playlistID)
	if err != nil {
		return false, fmt.Errorf("failed to add song to playlist: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows > 0 {
		r.touch(ctx, playlistID)
	}
	return rows > 0, nil
}

// RemoveSong removes a song from the playlist. It reports false if the song was not present.
func (r *PlaylistRepository) RemoveSong(ctx context.Context, playlistID, songID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM playlist_songs WHERE playlist_id = ? AND song_id = ?", playlistID, songID)
	if err != nil {
		return false, fmt.Errorf("failed to remove song from playlist: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows > 0 {
		r.touch(ctx, playlistID)
	}
	return rows > 0, nil
}

// Songs returns the playlist's live songs in playlist order.
func (r *PlaylistRepository) Songs(ctx context.Context, playlistID string) ([]*models.Song, error) {
	query := `
		SELECT s.id, s.sequence, s.title, s.artist, s.album, s.duration, s.genre, s.spotify_id, s.spotify_link,
			s.added_by, s.created_at, s.updated_at, s.deleted_at
		FROM playlist_songs ps
		JOIN songs s ON s.id = ps.song_id
		WHERE ps.playlist_id = ? AND s.deleted_at IS NULL
		ORDER BY ps.position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist songs: %w", err)
	}
	defer rows.Close()

	return collectSongs(rows)
}

// Export loads a playlist together with its songs.
func (r *PlaylistRepository) Export(ctx context.Context, playlistID string) (*models.PlaylistExport, error) {
	playlist, err := r.Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	songs, err := r.Songs(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	return &models.PlaylistExport{Playlist: playlist, Songs: songs}, nil
}

func (r *PlaylistRepository) loadSongIDs(ctx context.Context, playlist *models.Playlist) error {
	query := `
		SELECT ps.song_id
		FROM playlist_songs ps
		JOIN songs s ON s.id = ps.song_id
		WHERE ps.playlist_id = ? AND s.deleted_at IS NULL
		ORDER BY ps.position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, playlist.ID())
	if err != nil {
		return fmt.Errorf("failed to query playlist songs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan playlist song: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}

	playlist.SetSongIDs(ids)
	return nil
}

func (r *PlaylistRepository) touch(ctx context.Context, playlistID string) {
	_, _ = r.db.ExecContext(ctx, "UPDATE playlists SET updated_at = ? WHERE id = ?", time.Now(), playlistID)
}

func scanPlaylist(row scanner) (*models.Playlist, error) {
	var (
		id          string
		sequence    int
		title       string
		description string
		coverImage  string
		createdBy   string
		public      bool
		createdAt   time.Time
		updatedAt   time.Time
		deletedAt   sql.NullTime
	)

	err := row.Scan(&id, &sequence, &title, &description, &coverImage, &createdBy, &public, &createdAt, &updatedAt,
		&deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: playlist", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}

	playlist := models.NewPlaylist(sequence, title, createdBy)
	playlist.SetID(id)
	playlist.SetDescription(description)
	playlist.SetCoverImage(coverImage)
	playlist.SetPublic(public)
	playlist.SetCreatedAt(createdAt)
	playlist.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		playlist.SetDeletedAt(&deletedAt.Time)
	}

	return playlist, nil
}
