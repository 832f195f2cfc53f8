// Spotify Web API playback endpoints
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/get-information-about-the-users-current-playback
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const spotifyBaseURL = "https://api.spotify.com/v1"

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyArtist represents a simplified artist object.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum represents a simplified album object.
type SpotifyAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyTrack represents the playing item.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int64           `json:"duration_ms"`
	ExternalURLs externalURLs    `json:"external_urls"`
	URI          string          `json:"uri"`
}

// SpotifyPlaybackState is the body of GET /me/player.
type SpotifyPlaybackState struct {
	IsPlaying            bool          `json:"is_playing"`
	ProgressMS           int64         `json:"progress_ms"`
	Timestamp            int64         `json:"timestamp"`
	CurrentlyPlayingType string        `json:"currently_playing_type"`
	Item                 *SpotifyTrack `json:"item"`
}

// Snapshot maps the playback state onto the domain model.
//
// A paused player or a missing item is reported as not playing.
func (p SpotifyPlaybackState) Snapshot() *models.PlaybackSnapshot {
	if !p.IsPlaying || p.Item == nil {
		return models.NotPlaying()
	}

	item := p.Item
	names := make([]string, 0, len(item.Artists))
	for _, a := range item.Artists {
		names = append(names, a.Name)
	}

	track := &models.Track{
		Name:        item.Name,
		Artist:      strings.Join(names, ", "),
		Album:       item.Album.Name,
		ExternalURL: item.ExternalURLs.Spotify,
		DurationMs:  item.DurationMS,
		ProgressMs:  p.ProgressMS,
	}
	if len(item.Album.Images) > 0 {
		track.AlbumArtURL = item.Album.Images[0].URL
	}
	return &models.PlaybackSnapshot{IsPlaying: true, Track: track}
}

// SpotifyPlayback implements [PlaybackProvider] against the Spotify Web API.
type SpotifyPlayback struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewSpotifyPlayback creates the playback provider.
func NewSpotifyPlayback(opts ...Option) *SpotifyPlayback {
	o := newOptions(opts)
	return &SpotifyPlayback{
		baseURL:    strings.TrimRight(o.apiBaseURL, "/"),
		httpClient: o.httpClient,
		limiter:    o.limiter,
		logger:     shared.WithLogger(o.logger, "provider", "spotify-playback"),
	}
}

// CurrentPlayback calls GET /me/player once.
//
// 204 No Content means no active device and is reported as not playing.
func (s *SpotifyPlayback) CurrentPlayback(ctx context.Context, accessToken string) (snap *models.PlaybackSnapshot, err error) {
	ctx, span := startSpan(ctx, "spotify.current_playback", attribute.String("http.route", "/me/player"))
	defer func() { endSpan(span, err) }()

	if accessToken == "" {
		return nil, &shared.ProviderError{Kind: shared.ErrUnauthorized, Err: shared.ErrNotAuthenticated}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/me/player", nil)
	if err != nil {
		return nil, &shared.ProviderError{Kind: shared.ErrFatal, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, shared.Classify(0, nil, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	s.logger.Debug("spotify response", "status", resp.StatusCode, "elapsed", time.Since(started))

	if resp.StatusCode == http.StatusNoContent {
		return models.NotPlaying(), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, shared.Classify(resp.StatusCode, resp.Header,
			fmt.Errorf("spotify API error: %s", strings.TrimSpace(string(body))))
	}

	var state SpotifyPlaybackState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		if err == io.EOF {
			return models.NotPlaying(), nil
		}
		return nil, shared.Classify(resp.StatusCode, resp.Header, fmt.Errorf("failed to decode response: %w", err))
	}
	return state.Snapshot(), nil
}
