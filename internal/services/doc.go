// Package services defines the [Catalog] interface for external music catalogs and implements it for Spotify.
//
// # Spotify Implementation
//
// [SpotifyCatalog] maps Spotify Web API track objects onto [Track]. It never touches tokens itself:
// requests go through a [Caller] (the auth package's API client), which refreshes an expired access
// token once and retries once on a 401.
//
// # Error Handling
//
// Errors from the caller pass through unchanged, so handlers can test for the auth package's
// ErrReauthRequired and UpstreamError. Missing input is reported with [shared.ErrMissingArgument].
package services
