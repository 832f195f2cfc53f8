package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/nowplaying/internal/shared"
)

const playingBody = `{
	"is_playing": true,
	"progress_ms": 42000,
	"currently_playing_type": "track",
	"item": {
		"id": "t1",
		"name": "Song",
		"duration_ms": 180000,
		"artists": [{"id": "a1", "name": "First"}, {"id": "a2", "name": "Second"}],
		"album": {"id": "al", "name": "Record", "images": [{"url": "https://i.scdn.co/large", "height": 640, "width": 640}, {"url": "https://i.scdn.co/small", "height": 64, "width": 64}]},
		"external_urls": {"spotify": "https://open.spotify.com/track/t1"}
	}
}`

func playbackServer(t *testing.T, handler http.HandlerFunc) *SpotifyPlayback {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSpotifyPlayback(WithEndpoints("", "", srv.URL+"/v1"))
}

func TestSpotifyPlayback(t *testing.T) {
	ctx := context.Background()

	t.Run("playing", func(t *testing.T) {
		p := playbackServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/me/player" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer token" {
				t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(playingBody))
		})

		snap, err := p.CurrentPlayback(ctx, "token")
		if err != nil {
			t.Fatalf("CurrentPlayback() error = %v", err)
		}
		if !snap.IsPlaying || snap.Track == nil {
			t.Fatalf("expected playing snapshot, got %+v", snap)
		}

		track := snap.Track
		if track.Name != "Song" || track.Album != "Record" {
			t.Errorf("unexpected track %+v", track)
		}
		if track.Artist != "First, Second" {
			t.Errorf("expected joined artists, got %q", track.Artist)
		}
		if track.AlbumArtURL != "https://i.scdn.co/large" {
			t.Errorf("expected first album image, got %q", track.AlbumArtURL)
		}
		if track.ExternalURL != "https://open.spotify.com/track/t1" {
			t.Errorf("unexpected url %q", track.ExternalURL)
		}
		if track.DurationMs != 180000 || track.ProgressMs != 42000 {
			t.Errorf("unexpected timing %d/%d", track.ProgressMs, track.DurationMs)
		}
	})

	notPlaying := []struct {
		name   string
		status int
		body   string
	}{
		{"no content", http.StatusNoContent, ""},
		{"paused", http.StatusOK, `{"is_playing": false, "item": {"name": "Song"}}`},
		{"null item", http.StatusOK, `{"is_playing": true, "item": null}`},
		{"empty body", http.StatusOK, ""},
	}

	for _, tt := range notPlaying {
		t.Run(tt.name, func(t *testing.T) {
			p := playbackServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			snap, err := p.CurrentPlayback(ctx, "token")
			if err != nil {
				t.Fatalf("not playing should succeed, got %v", err)
			}
			if snap.IsPlaying || snap.Track != nil {
				t.Errorf("expected not playing, got %+v", snap)
			}
		})
	}

	failures := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"status":401}}`, shared.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, "", shared.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, "", shared.ErrRateLimited},
		{"unavailable", http.StatusServiceUnavailable, "", shared.ErrTransient},
		{"not found", http.StatusNotFound, "", shared.ErrFatal},
		{"malformed body", http.StatusOK, `{"is_playing": tru`, shared.ErrFatal},
	}

	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			p := playbackServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			if _, err := p.CurrentPlayback(ctx, "token"); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("empty token", func(t *testing.T) {
		p := playbackServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		if _, err := p.CurrentPlayback(ctx, ""); !errors.Is(err, shared.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("network failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		p := NewSpotifyPlayback(WithEndpoints("", "", srv.URL))

		if _, err := p.CurrentPlayback(ctx, "token"); !errors.Is(err, shared.ErrTransient) {
			t.Errorf("expected ErrTransient, got %v", err)
		}
	})
}
