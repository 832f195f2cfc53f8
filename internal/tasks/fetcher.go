package tasks

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/services"
	"github.com/desertthunder/nowplaying/internal/shared"
)

// Fetcher retrieves the current playback with bounded retries.
type Fetcher struct {
	playback services.PlaybackProvider
	policy   shared.RetryPolicy
	logger   *log.Logger
}

// NewFetcher creates a [Fetcher]. A zero policy uses [shared.DefaultRetryPolicy].
func NewFetcher(playback services.PlaybackProvider, policy shared.RetryPolicy, logger *log.Logger) *Fetcher {
	if policy.MaxAttempts == 0 && policy.BaseDelay == 0 {
		sleep := policy.Sleep
		policy = shared.DefaultRetryPolicy()
		policy.Sleep = sleep
	}
	logger = shared.WithLogger(logger, "component", "fetcher")
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Fetcher{playback: playback, policy: policy, logger: logger}
}

// Fetch returns the playback snapshot for accessToken.
//
// Not playing is a success. Errors match one of [shared.ErrUnauthorized], [shared.ErrRateLimited],
// [shared.ErrTransient] or [shared.ErrFatal]; Unauthorized and Fatal are never retried.
func (f *Fetcher) Fetch(ctx context.Context, accessToken string) (*models.PlaybackSnapshot, error) {
	if accessToken == "" {
		return nil, &shared.ProviderError{Kind: shared.ErrUnauthorized, Err: shared.ErrNoCredential}
	}

	var snap *models.PlaybackSnapshot
	err := f.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		s, err := f.playback.CurrentPlayback(ctx, accessToken)
		if err != nil {
			f.logger.Debug("fetch attempt failed", "attempt", attempt, "error", err)
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !isProviderError(err) {
			return nil, &shared.ProviderError{Kind: shared.ErrTransient, Err: err}
		}
		return nil, err
	}

	if snap == nil {
		snap = models.NotPlaying()
	}
	return snap, nil
}
