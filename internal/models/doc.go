// Package models defines the persistent entities of the playlist service.
//
//   - [Account] : a local user holding a password, a linked Spotify identity, or both
//   - [Song] : a library track, optionally imported from the Spotify catalog
//   - [Playlist] : an ordered list of song IDs owned by an account
//   - [PlaylistExport] : a playlist with its songs resolved, used for exports
//
// Every entity embeds the shared record fields (ID, sequence, timestamps, soft delete)
// and satisfies [Model]. The [Repository] interface defines the CRUD surface
// implemented in the repositories package.
//
// Fields are private and reached through getters and setters so that invariants such as
// email normalization and refresh token retention live in one place.
package models
