// Package tokens owns the OAuth credential lifecycle.
//
// [Store] persists the single [models.Credential] through a key-value [Persistence] and answers
// the two time-based questions the rest of the system asks: is the access token still valid, and
// is it close enough to expiry that it should be refreshed now. It never touches the network.
//
// [Refresher] exchanges the stored refresh token for a new access token with bounded retries.
// It guarantees at most one exchange in flight; what an overlapping caller gets back depends on
// the configured [OverlapPolicy].
package tokens
