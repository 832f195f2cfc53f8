// Package ui implements the terminal now-playing widget using bubbletea's Elm architecture.
//
// The [Model] is a presentation sink: it reads [tasks.Update] values from the coordinator's channel
// and renders the state, the current track with a progress bar, and any error message. Between
// updates the progress bar advances locally once a second while the track is playing.
//
// The widget never calls the provider. Its only calls back into the core are through [Controller]:
// r retries now, l logs out, and every key press counts as user activity so the coordinator keeps
// the short poll cadence. q quits.
package ui
