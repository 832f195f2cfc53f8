package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/nowplaying/internal/server"
	"github.com/desertthunder/nowplaying/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// Serve runs the HTTP API and the polling loop until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord, err := r.coordinator(ctx, tasks.NewLogSink(r.logger))
	if err != nil {
		return err
	}
	defer r.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	api := server.NewAPI(server.APIConfig{
		Auth:         r.auth,
		Store:        r.store,
		Refresher:    r.refresher,
		Coordinator:  coord,
		FrontendURL:  r.config.Server.FrontendURL,
		CallbackPath: server.CallbackPath(r.config.Credentials.Spotify.RedirectURI),
		Logger:       r.logger,
	})
	srv := server.New(server.Config{
		Addr:        addr,
		FrontendURL: r.config.Server.FrontendURL,
		Logger:      r.logger,
	}, api)

	r.logger.Info("serving now-playing API", "addr", srv.Addr(), "session", coord.Session())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	g.Go(func() error { return coord.Run(ctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	r.logger.Info("stopped")
	return nil
}
