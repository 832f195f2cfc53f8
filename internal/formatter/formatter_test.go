package formatter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
	th "github.com/desertthunder/nowplaying/internal/testing"
)

func playingUpdate() tasks.Update {
	return tasks.Update{
		State: models.Polling,
		Snapshot: &models.PlaybackSnapshot{
			IsPlaying: true,
			Track: &models.Track{
				Name:        "Song One",
				Artist:      "Artist One, Artist Two",
				Album:       "Album One",
				ExternalURL: "https://open.spotify.com/track/1",
				DurationMs:  200000,
				ProgressMs:  65000,
			},
		},
		At: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{65 * time.Second, "1:05"},
		{200 * time.Second, "3:20"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": Text, "md": Markdown, "CSV": CSV, "json": JSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("yaml"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRender(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		out := string(ToText(playingUpdate()))
		for _, want := range []string{"State: polling", "Playing: Artist One, Artist Two - Song One", "Album: Album One", "1:05 / 3:20"} {
			if !strings.Contains(out, want) {
				t.Errorf("text missing %q, got:\n%s", want, out)
			}
		}
	})

	t.Run("text nothing playing", func(t *testing.T) {
		out := string(ToText(tasks.Update{State: models.Polling, Snapshot: models.NotPlaying()}))
		if !strings.Contains(out, "Nothing playing") {
			t.Errorf("got:\n%s", out)
		}
	})

	t.Run("text with error", func(t *testing.T) {
		u := playingUpdate()
		u.State = models.Degraded
		u.Err = shared.ErrTransient
		u.Message = "Could not reach Spotify. Retrying shortly."
		out := string(ToText(u))
		if !strings.Contains(out, "Error: Could not reach Spotify") || !strings.Contains(out, "Song One") {
			t.Errorf("got:\n%s", out)
		}
	})

	t.Run("markdown", func(t *testing.T) {
		out := string(ToMarkdown(playingUpdate(), "cover.jpg"))
		for _, want := range []string{"# Song One", "![Cover](cover.jpg)", "**Artist**: Artist One, Artist Two", "[Open in Spotify](https://open.spotify.com/track/1)"} {
			if !strings.Contains(out, want) {
				t.Errorf("markdown missing %q, got:\n%s", want, out)
			}
		}
	})

	t.Run("csv", func(t *testing.T) {
		data, err := Render(CSV, playingUpdate())
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected header and record, got %d lines", len(lines))
		}
		if lines[0] != "State,Playing,Name,Artist,Album,Progress,Duration,URL" {
			t.Errorf("unexpected header %q", lines[0])
		}
		if !strings.Contains(lines[1], `polling,true,Song One,"Artist One, Artist Two",Album One,65000,200000`) {
			t.Errorf("unexpected record %q", lines[1])
		}
	})

	t.Run("json", func(t *testing.T) {
		data, err := Render(JSON, playingUpdate())
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if got["state"] != "polling" || got["isPlaying"] != true {
			t.Errorf("unexpected JSON %v", got)
		}
		track, _ := got["track"].(map[string]any)
		if track["name"] != "Song One" || track["duration"] != float64(200000) {
			t.Errorf("unexpected track %v", track)
		}
	})
}

func TestWriteMarkdownExport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("jpeg bytes"))
	}))
	defer srv.Close()

	t.Run("with cover", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "export")
		u := playingUpdate()
		u.Snapshot.Track.AlbumArtURL = srv.URL + "/cover.jpg"

		result, err := WriteMarkdownExport(context.Background(), u, dir, true, nil)
		if err != nil {
			t.Fatalf("WriteMarkdownExport() error = %v", err)
		}
		if len(result.Files) != 2 || result.CoverImage == "" {
			t.Errorf("unexpected result %+v", result)
		}
		th.AssertFileExists(t, filepath.Join(dir, "cover.jpg"))
		if content := th.MustReadFile(t, filepath.Join(dir, "README.md")); !strings.Contains(content, "![Cover](cover.jpg)") {
			t.Errorf("README missing cover, got:\n%s", content)
		}
	})

	t.Run("failed cover is a warning", func(t *testing.T) {
		dir := t.TempDir()
		u := playingUpdate()
		u.Snapshot.Track.AlbumArtURL = srv.URL + "/missing.jpg"

		var warned error
		result, err := WriteMarkdownExport(context.Background(), u, dir, true, func(err error) { warned = err })
		if err != nil {
			t.Fatalf("WriteMarkdownExport() error = %v", err)
		}
		if warned == nil {
			t.Error("expected a warning for the missing cover")
		}
		if len(result.Files) != 1 || result.CoverImage != "" {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("download requires a url", func(t *testing.T) {
		if _, err := DownloadImage(context.Background(), ""); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}
