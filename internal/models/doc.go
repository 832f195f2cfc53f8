// Package models defines the domain entities shared by the token, polling and presentation layers.
//
//   - [Credential] : the OAuth access/refresh token pair and its lifetime
//   - [PlaybackSnapshot] : the result of one now-playing fetch
//   - [Track] : metadata for the item currently playing
//   - [State] : the polling coordinator's lifecycle state
//
// The [Repository] interface is the key-value persistence the token store writes through to.
package models
