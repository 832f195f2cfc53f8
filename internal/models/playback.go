package models

import "time"

// PlaybackSnapshot is the outcome of one now-playing fetch.
//
// Track is nil when nothing is playing.
type PlaybackSnapshot struct {
	IsPlaying bool   `json:"isPlaying"`
	Track     *Track `json:"track,omitempty"`
}

// NotPlaying is the snapshot for an idle player.
func NotPlaying() *PlaybackSnapshot {
	return &PlaybackSnapshot{IsPlaying: false}
}

// Track describes the item currently playing. Artist holds every artist name joined by ", ".
type Track struct {
	Name        string `json:"name"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtURL string `json:"albumArt,omitempty"`
	ExternalURL string `json:"url,omitempty"`
	DurationMs  int64  `json:"duration"`
	ProgressMs  int64  `json:"progress"`
}

// Progress returns ProgressMs/DurationMs clamped to [0, 1].
func (t Track) Progress() float64 {
	if t.DurationMs <= 0 || t.ProgressMs <= 0 {
		return 0
	}
	if t.ProgressMs >= t.DurationMs {
		return 1
	}
	return float64(t.ProgressMs) / float64(t.DurationMs)
}

// Elapsed and Duration format progress for display.
func (t Track) Elapsed() time.Duration  { return time.Duration(t.ProgressMs) * time.Millisecond }
func (t Track) Duration() time.Duration { return time.Duration(t.DurationMs) * time.Millisecond }
