// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config.toml from the bundled template",
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize the SQLite token database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand handles the Spotify session
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the Spotify session",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize with Spotify using OAuth2 and store the tokens",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening a browser",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the callback",
						Value: authTimeout,
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "logout",
				Usage:  "Remove stored tokens",
				Action: r.AuthLogout,
			},
			{
				Name:  "status",
				Usage: "Show whether a session is stored and when it expires",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthStatus,
			},
			{
				Name:   "refresh",
				Usage:  "Exchange the stored refresh token for a new access token",
				Action: r.AuthRefresh,
			},
		},
	}
}

// nowCommand runs a single poll cycle and prints the result.
func nowCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "now",
		Aliases: []string{"np"},
		Usage:   "Show what is playing right now",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format (text, markdown, csv, json)",
				Value:   "text",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Shorthand for --format json",
			},
			&cli.StringFlag{
				Name:    "export",
				Aliases: []string{"o"},
				Usage:   "Write a Markdown export to this directory",
			},
			&cli.BoolFlag{
				Name:  "cover",
				Usage: "Download album art alongside the Markdown export",
			},
		},
		Action: r.Now,
	}
}

// serveCommand runs the HTTP API with the polling loop.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the now-playing HTTP API and background polling",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (defaults to server.host:server.port)",
			},
		},
		Action: r.Serve,
	}
}

// watchCommand returns the terminal widget command.
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"tui", "ui"},
		Usage:   "Launch the live now-playing terminal widget",
		Action:  r.Watch,
	}
}
