package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
	"github.com/desertthunder/nowplaying/internal/ui"
	"github.com/urfave/cli/v3"
)

// updateBuffer is how many updates the widget may lag behind before older ones are dropped.
const updateBuffer = 16

// Watch launches the live terminal widget backed by the polling loop.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(r.config.Log.File)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, shared.ParseLogLevel(r.config.Log.Level))
	r.SetLogger(fileLogger)

	sink := tasks.NewChannelSink(updateBuffer)
	coord, err := r.coordinator(ctx, tasks.MultiSink{sink, tasks.NewLogSink(fileLogger)})
	if err != nil {
		return err
	}
	defer r.Close()

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	model := ui.NewModel(sink.Updates(), coord, coord.Last())
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
