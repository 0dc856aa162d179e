// package server contains the router, middleware & handlers for the setlist web service
package server

import (
	"net/http"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
// Common middleware includes logging, sessions, metrics, panic recovery, etc.
type Middleware func(http.Handler) http.Handler

// Route is a single method and path pattern served by a [Handler].
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

// Handler defines the interface for groups of HTTP handlers in the setlist service.
// Implementations handle related endpoints (auth, playlists, songs, catalog).
type Handler interface {
	Routes() []Route // Routes returns the method and path patterns this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
// Implementations register handlers, apply middleware, and configure the HTTP server.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers every route of a Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}
