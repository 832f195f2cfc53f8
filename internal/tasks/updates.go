package tasks

import (
	"errors"
	"time"

	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
)

// Update is what the coordinator publishes to presentation sinks after every transition.
type Update struct {
	State    models.State             // Coordinator state after the transition
	Snapshot *models.PlaybackSnapshot // Last known playback; kept while degraded
	Loading  bool                     // True until the first fetch of a session completes
	Err      error                    // Unresolved error, nil when healthy
	Message  string                   // Human-readable status for display
	At       time.Time                // When the update was produced
}

// Retryable reports whether the error clears on its own with later polls.
func (u Update) Retryable() bool {
	if u.Err == nil {
		return false
	}
	return !errors.Is(u.Err, shared.ErrSessionExpired) && !errors.Is(u.Err, shared.ErrUnauthorized)
}

const (
	msgLoggedOut      = "Not connected to Spotify. Log in to show what's playing."
	msgLoading        = "Loading..."
	msgRefreshing     = "Refreshing session..."
	msgNotPlaying     = "Nothing playing"
	msgSessionExpired = "Session expired. Please log in again."
	msgRejected       = "Spotify rejected the session. Please log in again."
	msgRateLimited    = "Spotify is rate limiting requests. Retrying shortly."
	msgTransient      = "Could not reach Spotify. Retrying shortly."
	msgFatal          = "Unexpected response from Spotify."
	msgStorage        = "Could not read saved credentials."
)

func loggedOutUpdate(at time.Time) Update {
	return Update{State: models.LoggedOut, Message: msgLoggedOut, At: at}
}

func sessionExpiredUpdate(state models.State, at time.Time, cause error) Update {
	return Update{
		State:   state,
		Err:     errors.Join(shared.ErrSessionExpired, cause),
		Message: msgSessionExpired,
		At:      at,
	}
}

func loadingUpdate(at time.Time) Update {
	return Update{State: models.Polling, Loading: true, Message: msgLoading, At: at}
}

func refreshingUpdate(snap *models.PlaybackSnapshot, at time.Time) Update {
	return Update{State: models.Refreshing, Snapshot: snap, Loading: snap == nil, Message: msgRefreshing, At: at}
}

func playbackUpdate(snap *models.PlaybackSnapshot, at time.Time) Update {
	u := Update{State: models.Polling, Snapshot: snap, At: at, Message: msgNotPlaying}
	if snap != nil && snap.IsPlaying && snap.Track != nil {
		u.Message = snap.Track.Name + " - " + snap.Track.Artist
	}
	return u
}

func rejectedUpdate(snap *models.PlaybackSnapshot, at time.Time, cause error) Update {
	return Update{State: models.Degraded, Snapshot: snap, Err: cause, Message: msgRejected, At: at}
}

// degradedUpdate keeps the last snapshot and picks a message from the error kind.
func degradedUpdate(snap *models.PlaybackSnapshot, at time.Time, cause error) Update {
	msg := msgFatal
	switch {
	case errors.Is(cause, shared.ErrRateLimited):
		msg = msgRateLimited
	case errors.Is(cause, shared.ErrTransient):
		msg = msgTransient
	case !isProviderError(cause):
		msg = msgStorage
	}
	return Update{State: models.Degraded, Snapshot: snap, Err: cause, Message: msg, At: at}
}

func isProviderError(err error) bool {
	var pe *shared.ProviderError
	return errors.As(err, &pe)
}
