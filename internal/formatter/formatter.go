// package formatter renders now-playing status as plain text, Markdown, CSV or JSON
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
)

// Format names an output format for [Render].
type Format string

const (
	Text     Format = "text"
	Markdown Format = "markdown"
	CSV      Format = "csv"
	JSON     Format = "json"
)

// ParseFormat maps a flag value onto a [Format]. Empty means [Text].
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return Text, nil
	case "markdown", "md":
		return Markdown, nil
	case "csv":
		return CSV, nil
	case "json":
		return JSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

// Render converts an update to the requested format.
func Render(f Format, u tasks.Update) ([]byte, error) {
	switch f {
	case Text, "":
		return ToText(u), nil
	case Markdown:
		return ToMarkdown(u, ""), nil
	case CSV:
		return ToCSV(u)
	case JSON:
		return ToJSON(u)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, f)
	}
}

// FormatDuration renders d as m:ss, or h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ToText converts an update to a few lines of plain text.
func ToText(u tasks.Update) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("State: %s\n", u.State))
	if snap := u.Snapshot; snap != nil && snap.Track != nil {
		t := snap.Track
		status := "Paused"
		if snap.IsPlaying {
			status = "Playing"
		}
		buf.WriteString(fmt.Sprintf("%s: %s - %s\n", status, t.Artist, t.Name))
		if t.Album != "" {
			buf.WriteString(fmt.Sprintf("Album: %s\n", t.Album))
		}
		buf.WriteString(fmt.Sprintf("Progress: %s / %s\n", FormatDuration(t.Elapsed()), FormatDuration(t.Duration())))
	} else if u.Err == nil {
		buf.WriteString("Nothing playing\n")
	}
	if u.Err != nil && u.Message != "" {
		buf.WriteString(fmt.Sprintf("Error: %s\n", u.Message))
	}

	return buf.Bytes()
}

// ToMarkdown converts an update to Markdown with an optional cover image.
func ToMarkdown(u tasks.Update, imageFilename string) []byte {
	var buf bytes.Buffer

	snap := u.Snapshot
	if snap == nil || snap.Track == nil {
		buf.WriteString("# Nothing playing\n\n")
		buf.WriteString(fmt.Sprintf("**State**: %s\n", u.State))
		if u.Err != nil && u.Message != "" {
			buf.WriteString(fmt.Sprintf("\n> %s\n", u.Message))
		}
		return buf.Bytes()
	}

	t := snap.Track
	buf.WriteString(fmt.Sprintf("# %s\n\n", t.Name))
	if imageFilename != "" {
		buf.WriteString(fmt.Sprintf("![Cover](%s)\n\n", imageFilename))
	}
	buf.WriteString(fmt.Sprintf("**Artist**: %s\n", t.Artist))
	if t.Album != "" {
		buf.WriteString(fmt.Sprintf("**Album**: %s\n", t.Album))
	}
	buf.WriteString(fmt.Sprintf("**Progress**: %s / %s\n", FormatDuration(t.Elapsed()), FormatDuration(t.Duration())))
	if t.ExternalURL != "" {
		buf.WriteString(fmt.Sprintf("\n[Open in Spotify](%s)\n", t.ExternalURL))
	}
	if u.Err != nil && u.Message != "" {
		buf.WriteString(fmt.Sprintf("\n> %s\n", u.Message))
	}

	return buf.Bytes()
}

// ToCSV converts an update to a header and a single record:
// State, Playing, Name, Artist, Album, Progress, Duration, URL.
func ToCSV(u tasks.Update) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"State", "Playing", "Name", "Artist", "Album", "Progress", "Duration", "URL"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	record := []string{u.State.String(), "false", "", "", "", "0", "0", ""}
	if snap := u.Snapshot; snap != nil {
		record[1] = strconv.FormatBool(snap.IsPlaying)
		if t := snap.Track; t != nil {
			record[2] = t.Name
			record[3] = t.Artist
			record[4] = t.Album
			record[5] = strconv.FormatInt(t.ProgressMs, 10)
			record[6] = strconv.FormatInt(t.DurationMs, 10)
			record[7] = t.ExternalURL
		}
	}
	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("failed to write CSV record: %w", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

type jsonStatus struct {
	State     string `json:"state"`
	IsPlaying bool   `json:"isPlaying"`
	Track     any    `json:"track,omitempty"`
	Error     string `json:"error,omitempty"`
	At        string `json:"at,omitempty"`
}

// ToJSON converts an update to indented JSON matching the API's now-playing shape.
func ToJSON(u tasks.Update) ([]byte, error) {
	out := jsonStatus{State: u.State.String()}
	if snap := u.Snapshot; snap != nil {
		out.IsPlaying = snap.IsPlaying
		if snap.Track != nil {
			out.Track = snap.Track
		}
	}
	if u.Err != nil {
		out.Error = u.Message
	}
	if !u.At.IsZero() {
		out.At = u.At.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// DownloadImage downloads an image from the given URL and returns the raw bytes
func DownloadImage(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty URL provided", shared.ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return imageData, nil
}

// MarkdownExportResult contains information about files created by WriteMarkdownExport
type MarkdownExportResult struct {
	Directory  string
	Files      []string
	CoverImage string
}

// WriteMarkdownExport writes the update to {dir}/README.md, downloading the album art to {dir}/cover.jpg when withCover is set.
//
// A failed cover download is reported through warn and does not fail the export.
func WriteMarkdownExport(ctx context.Context, u tasks.Update, outputDir string, withCover bool, warn func(error)) (*MarkdownExportResult, error) {
	if outputDir == "" {
		outputDir = "nowplaying"
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &MarkdownExportResult{Directory: outputDir, Files: []string{}}

	var cover string
	if withCover && u.Snapshot != nil && u.Snapshot.Track != nil && u.Snapshot.Track.AlbumArtURL != "" {
		imageData, err := DownloadImage(ctx, u.Snapshot.Track.AlbumArtURL)
		if err == nil {
			path := filepath.Join(outputDir, "cover.jpg")
			if err = os.WriteFile(path, imageData, 0644); err == nil {
				cover = "cover.jpg"
				result.CoverImage = path
				result.Files = append(result.Files, path)
			}
		}
		if err != nil && warn != nil {
			warn(err)
		}
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, ToMarkdown(u, cover), 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}
	result.Files = append(result.Files, mdFile)

	return result, nil
}
