// Package repositories implements SQLite persistence for accounts, songs and playlists.
//
// Each repository handles CRUD operations with atomic sequence generation for human-readable ordering.
// All repositories support soft deletes via deleted_at timestamps and exclude deleted records from queries by default.
//
// Key Implementations:
//   - [AccountRepository] : accounts with atomic token updates, optimistic identity attachment and provider upserts
//   - [SongRepository] : library songs with Spotify ID lookups for catalog imports
//   - [PlaylistRepository] : playlists and their ordered song membership
//
// Unique constraint violations are reported as [DuplicateError], which wraps [ErrDuplicate] and names the column.
// Conditional writes that lose a race report [ErrVersionConflict].
//
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
