package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/repositories"
	"github.com/desertthunder/nowplaying/internal/services"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
	"github.com/desertthunder/nowplaying/internal/tokens"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	open       func(url string) error

	mu        sync.Mutex
	repo      models.Repository
	ownsRepo  bool
	store     *tokens.Store
	auth      services.AuthProvider
	playback  services.PlaybackProvider
	refresher *tokens.Refresher
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Repository, Auth and Playback are built from the config when nil.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Repository models.Repository
	Auth       services.AuthProvider
	Playback   services.PlaybackProvider
	Browser    func(url string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Browser == nil {
		opts.Browser = shared.OpenBrowser
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		open:       opts.Browser,
		repo:       opts.Repository,
		auth:       opts.Auth,
		playback:   opts.Playback,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, nowCommand, serveCommand, watchCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger, e.g. with a file logger while the terminal widget owns the screen.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// Before loads the configuration named by --config, applies environment overrides and validates it.
//
// A missing file falls back to the defaults.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}

	if r.config == nil {
		r.config = shared.DefaultConfig()
		if _, err := os.Stat(r.configPath); err == nil {
			loaded, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return ctx, err
			}
			r.config = loaded
		} else {
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		}
	}
	r.config.ApplyEnv()

	if err := r.config.Validate(); err != nil {
		return ctx, err
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(r.config.Log.Level))
	return ctx, nil
}

// tokenStore opens the configured repository on first use.
func (r *Runner) tokenStore(ctx context.Context) (*tokens.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		return r.store, nil
	}
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}
	if r.repo == nil {
		repo, err := repositories.Open(ctx, r.config)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", r.config.Store.Type, err)
		}
		r.repo = repo
		r.ownsRepo = true
	}
	r.store = tokens.NewStore(r.repo)
	return r.store, nil
}

// providers builds the Spotify clients and the shared refresher.
func (r *Runner) providers(ctx context.Context) (*tokens.Store, *tokens.Refresher, error) {
	store, err := r.tokenStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refresher != nil {
		return store, r.refresher, nil
	}

	opts := []services.Option{
		services.WithHTTPClient(r.httpClient),
		services.WithRateLimit(r.config.Retry.RequestsPerSecond),
		services.WithLogger(r.logger),
	}
	if r.auth == nil {
		if !r.config.HasSpotifyCredentials() {
			return nil, nil, fmt.Errorf("%w: set client_id and client_secret in %s or CLIENT_ID/CLIENT_SECRET in .env",
				shared.ErrMissingCredentials, r.configPath)
		}
		auth, err := services.NewSpotifyAuth(r.config.Credentials.Spotify.Map(), opts...)
		if err != nil {
			return nil, nil, err
		}
		r.auth = auth
	}
	if r.playback == nil {
		r.playback = services.NewSpotifyPlayback(opts...)
	}

	overlap, err := tokens.ParseOverlapPolicy(r.config.Polling.ConcurrentRefresh)
	if err != nil {
		return nil, nil, err
	}
	policy := r.config.Retry.Policy()
	r.refresher = tokens.NewRefresher(store, r.auth,
		tokens.WithRetryPolicy(policy),
		tokens.WithOverlapPolicy(overlap),
		tokens.WithRefresherLogger(r.logger),
	)
	return store, r.refresher, nil
}

// coordinator wires a new coordinator publishing to sink.
func (r *Runner) coordinator(ctx context.Context, sink tasks.Sink) (*tasks.Coordinator, error) {
	store, refresher, err := r.providers(ctx)
	if err != nil {
		return nil, err
	}

	fetcher := tasks.NewFetcher(r.playback, r.config.Retry.Policy(), r.logger)
	return tasks.NewCoordinator(store, refresher, fetcher,
		tasks.WithSink(sink),
		tasks.WithConfig(tasks.ConfigFrom(r.config.Polling)),
		tasks.WithCoordinatorLogger(r.logger),
	), nil
}

// Close releases the repository if the runner opened it.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil || !r.ownsRepo {
		return nil
	}
	err := r.repo.Close()
	r.repo = nil
	r.store = nil
	return err
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
