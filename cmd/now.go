package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/nowplaying/internal/formatter"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/urfave/cli/v3"
)

// Now runs one poll cycle, refreshing the token if needed, and prints the result.
//
// A logged-out session prints the message and fails with [shared.ErrNotAuthenticated].
func (r *Runner) Now(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		format = formatter.JSON
	}

	coord, err := r.coordinator(ctx, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	u, err := coord.PollOnce(ctx)
	if err != nil {
		return err
	}

	data, err := formatter.Render(format, u)
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if dir := cmd.String("export"); dir != "" && u.Snapshot != nil && u.Snapshot.IsPlaying {
		result, err := formatter.WriteMarkdownExport(ctx, u, dir, cmd.Bool("cover"), func(err error) {
			r.logger.Warn("failed to download album art", "error", err)
		})
		if err != nil {
			return err
		}
		r.logger.Info("export written", "dir", result.Directory, "files", len(result.Files))
	}

	if u.State == models.LoggedOut {
		return fmt.Errorf("%w: run 'nowplaying auth login'", shared.ErrNotAuthenticated)
	}
	return nil
}
