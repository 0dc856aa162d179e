// Package server provides HTTP routing, middleware, and the JSON handlers of the setlist web service.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses a chi mux internally, which provides URL parameters and 405 handling.
//
// # Handler Interface
//
// Handler groups implement the [Handler] interface and return their [Route] list, keeping route
// definitions next to the code that serves them: [AuthHandler], [PlaylistHandler], [SongHandler],
// [CatalogHandler] and [OpsHandler].
//
// # Sessions
//
// The [Sessions] middleware resolves the session cookie and signed-in account into a [RequestContext],
// which handlers read with [FromContext]. Mutating endpoints answer 401 without an account, 403 when
// the caller does not own the resource, and 404 for missing or private resources.
//
// # Provider Sign-in
//
// GET /auth/external/start stores a state nonce and redirects to Spotify. GET /auth/external/callback
// validates the state, exchanges the code, links the identity and redirects to "/". Failures redirect
// to /auth/sign-in?error=<code> with one of the fixed codes from the auth package.
//
// Catalog calls that need a new provider authorization answer 401 with a JSON body whose redirect
// points at the start endpoint.
//
// # Metrics
//
// [Metrics] exposes prometheus counters for requests, callback outcomes, token refreshes, provider
// calls and imports on GET /metrics.
package server
