// Package session holds server-side browser sessions.
//
// A [Session] carries the signed-in account reference and the one-time nonce of an in-flight
// Spotify authorization. Sessions live in a [Store]: [MemoryStore] (go-cache) for single-process
// deployments and [RedisStore] (go-redis) when several processes share sessions. The browser only
// ever sees the opaque session ID in the [CookieName] cookie.
package session
