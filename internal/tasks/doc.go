// Package tasks implements catalog imports into the song library with progress reporting.
//
// # Import
//
// [Importer.Import] takes a playlist and a list of catalog track IDs:
//
//  1. Resolves the playlist and checks that the caller owns it
//  2. For each track not yet in the library (matched by Spotify ID), waits on the rate limiter,
//     fetches it from the [services.Catalog] and saves it as a song
//  3. Appends the song to the playlist; tracks already present are counted as skipped
//
// Tracks are processed in order on the calling goroutine, so a token refresh triggered by one lookup
// is seen by the next. A required re-authentication aborts the import.
//
// # Progress Reporting
//
// [ProgressUpdate] values are sent on an optional channel with select/default so a slow reader never
// blocks the import.
package tasks
