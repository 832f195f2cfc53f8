// Package tasks runs the now-playing loop.
//
// # Fetcher
//
// [Fetcher] wraps a [services.PlaybackProvider] in the bounded retry policy. Rate-limited calls
// wait for the provider's Retry-After, transient failures back off exponentially, and
// Unauthorized is returned immediately so the coordinator can decide whether to refresh.
//
// # Coordinator
//
// [Coordinator] is a single actor goroutine owning two timers (poll and refresh) and four
// signal channels (login, logout, retry, activity). Its state machine:
//
//	LoggedOut  -> Polling     credential available (startup or OAuth callback)
//	Polling    -> Refreshing  token close to expiry, refresh tick, or a fetch answered Unauthorized
//	Refreshing -> Polling     refresh succeeded; the pending fetch is retried at once
//	Refreshing -> Degraded    refresh failed; credential cleared, "session expired" published
//	Polling    -> Degraded    fetch failed after retries; last snapshot kept
//	Degraded   -> Polling     next fetch succeeds
//	any        -> LoggedOut   explicit logout
//
// At most one reactive refresh runs per cycle. If the fetch after a successful refresh is still
// Unauthorized the coordinator degrades and stops refreshing reactively until a new credential
// arrives or a fetch succeeds.
//
// # Progress Reporting
//
// Every transition is published to a [Sink] as an [Update]. [ChannelSink] uses select with
// default so a slow consumer never blocks the actor.
//
// # Activity
//
// [Activity] tracks the last user interaction. The poll cadence is short while the user is
// active and long once the inactivity threshold passes.
package tasks
