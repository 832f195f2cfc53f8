// Package services implements the external providers the token and polling layers depend on.
//
// # Auth Provider
//
// [SpotifyAuth] wraps an [oauth2.Config] pointed at the Spotify accounts service. It builds the
// consent URL, exchanges the callback code for a [models.Credential] and performs the
// refresh_token grant. Client credentials are always sent in the Authorization header.
//
// # Playback Provider
//
// [SpotifyPlayback] calls GET /me/player and maps the body onto [models.PlaybackSnapshot].
// A 204, a paused player or a null item all mean "not playing" and are successes.
//
// # Error Handling
//
// Every failure is a [shared.ProviderError] whose Kind is one of:
//   - [shared.ErrUnauthorized] : 401/403
//   - [shared.ErrRateLimited] : 429, with the Retry-After wait attached
//   - [shared.ErrTransient] : network errors, 408, 5xx
//   - [shared.ErrFatal] : anything else, including undecodable bodies
//
// Providers make exactly one attempt per call. Each call waits on a client-side rate limiter
// and runs inside an OpenTelemetry client span.
package services
