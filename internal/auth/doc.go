// Package auth implements local and Spotify sign-in for the playlist service.
//
// A browser session moves through anonymous, pending (a state nonce has been issued), linked
// (the session references an account with provider tokens), token-expired and refreshed:
//
//   - [StateGuard] issues the one-time state value and consumes it on the callback
//   - [Exchanger] trades the authorization code for tokens and fetches the profile
//   - [Linker] decides whether the identity attaches to the signed-in account, updates a
//     returning account or creates a new one, rejecting email collisions across identities
//   - [Refresher] mints access tokens from stored refresh tokens
//   - [Client] calls the resource API, refreshing once and retrying once on a 401
//   - [Flow] wires the guard, exchanger and linker into the start and callback steps
//   - [LocalAccounts] handles bcrypt password accounts
//
// Every failure in the round-trip maps onto one of the codes returned by [CallbackCode], so the
// HTTP layer can redirect with a fixed, non-leaking error code.
package auth
