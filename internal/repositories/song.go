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

const songColumns = `id, sequence, title, artist, album, duration, genre, spotify_id, spotify_link, added_by,
	created_at, updated_at, deleted_at`

var _ models.Repository[*models.Song] = (*SongRepository)(nil)

// SongRepository implements [models.Repository] for [models.Song] persistence.
type SongRepository struct {
	db *sql.DB
}

// NewSongRepository creates a new SongRepository with the given database connection
func NewSongRepository(db *sql.DB) *SongRepository {
	return &SongRepository{db: db}
}

// Create inserts a new song into the database with generated ID and sequence
func (r *SongRepository) Create(ctx context.Context, song *models.Song) error {
	if err := song.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "songs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()

	query := `
		INSERT INTO songs (id, sequence, title, artist, album, duration, genre, spotify_id, spotify_link, added_by,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		id,
		sequence,
		song.Title(),
		song.Artist(),
		song.Album(),
		song.Duration(),
		song.Genre(),
		nullString(song.SpotifyID()),
		song.SpotifyLink(),
		song.AddedBy(),
		song.CreatedAt(),
		song.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert song: %w", mapConstraint(err))
	}

	song.SetID(id)
	song.SetSequence(sequence)
	return nil
}

// Get retrieves a song by ID, excluding soft-deleted songs
func (r *SongRepository) Get(ctx context.Context, id string) (*models.Song, error) {
	query := fmt.Sprintf("SELECT %s FROM songs WHERE id = ? AND deleted_at IS NULL", songColumns)
	return scanSong(r.db.QueryRowContext(ctx, query, id))
}

// GetBySpotifyID retrieves the song imported from the given catalog track
func (r *SongRepository) GetBySpotifyID(ctx context.Context, spotifyID string) (*models.Song, error) {
	query := fmt.Sprintf("SELECT %s FROM songs WHERE spotify_id = ? AND deleted_at IS NULL", songColumns)
	return scanSong(r.db.QueryRowContext(ctx, query, spotifyID))
}

// Update modifies an existing song in the database
func (r *SongRepository) Update(ctx context.Context, song *models.Song) error {
	if err := song.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	song.SetUpdatedAt(now)

	query := `
		UPDATE songs
		SET title = ?, artist = ?, album = ?, duration = ?, genre = ?, spotify_id = ?, spotify_link = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		song.Title(),
		song.Artist(),
		song.Album(),
		song.Duration(),
		song.Genre(),
		nullString(song.SpotifyID()),
		song.SpotifyLink(),
		now,
		song.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update song: %w", mapConstraint(err))
	}

	return affected(result, "song", song.ID())
}

// Delete soft-deletes a song by ID
func (r *SongRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE songs
		SET deleted_at = ?, spotify_id = NULL
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete song: %w", err)
	}

	return affected(result, "song", id)
}

// List retrieves songs matching the given criteria, excluding soft-deleted songs.
//
// Supported criteria: "added_by" (string), "genre" (string) and "q" (substring of title or artist).
func (r *SongRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Song, error) {
	query := fmt.Sprintf("SELECT %s FROM songs WHERE deleted_at IS NULL", songColumns)
	args := []any{}

	if addedBy, ok := criteria["added_by"].(string); ok && addedBy != "" {
		query += " AND added_by = ?"
		args = append(args, addedBy)
	}

	if genre, ok := criteria["genre"].(string); ok && genre != "" {
		query += " AND genre = ?"
		args = append(args, genre)
	}

	if q, ok := criteria["q"].(string); ok && q != "" {
		query += " AND (title LIKE ? OR artist LIKE ?)"
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern)
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	return collectSongs(rows)
}

func collectSongs(rows *sql.Rows) ([]*models.Song, error) {
	var songs []*models.Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, song)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return songs, nil
}

func scanSong(row scanner) (*models.Song, error) {
	var (
		id          string
		sequence    int
		title       string
		artist      string
		album       string
		duration    int
		genre       string
		spotifyID   sql.NullString
		spotifyLink string
		addedBy     string
		createdAt   time.Time
		updatedAt   time.Time
		deletedAt   sql.NullTime
	)

	err := row.Scan(&id, &sequence, &title, &artist, &album, &duration, &genre, &spotifyID, &spotifyLink, &addedBy,
		&createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: song", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan song: %w", err)
	}

	song := models.NewSong(sequence, title, artist, addedBy)
	song.SetID(id)
	song.SetAlbum(album)
	song.SetDuration(duration)
	song.SetGenre(genre)
	song.SetSpotify(spotifyID.String, spotifyLink)
	song.SetCreatedAt(createdAt)
	song.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		song.SetDeletedAt(&deletedAt.Time)
	}

	return song, nil
}
