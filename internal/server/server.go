package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
	"github.com/desertthunder/nowplaying/internal/tokens"
	"github.com/go-chi/chi/v5"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that knows the paths it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// Coordinator is the part of [tasks.Coordinator] the API drives.
type Coordinator interface {
	Login()
	Logout()
	RetryNow()
	Activity()
	State() models.State
	Last() tasks.Update
}

// Refresher is satisfied by [tokens.Refresher].
type Refresher interface {
	RefreshWith(ctx context.Context, refreshToken string) (tokens.Result, error)
}

// ShutdownTimeout bounds how long in-flight requests get once the server is asked to stop.
const ShutdownTimeout = 10 * time.Second

// Config holds the listener settings.
type Config struct {
	Addr        string
	FrontendURL string
	Logger      *log.Logger
}

// Server is the HTTP server for the now-playing API.
type Server struct {
	router chi.Router
	server *http.Server
	logger *log.Logger
}

// New builds a [Server] with api mounted on a fresh router.
func New(cfg Config, api *API) *Server {
	logger := shared.WithLogger(cfg.Logger, "component", "server")
	router := NewRouter(cfg.Logger, CORS(cfg.FrontendURL))
	api.Mount(router)

	return &Server{
		router: router,
		logger: logger,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// ListenAndServe serves until ctx is cancelled, then shuts down within [ShutdownTimeout].
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.logger.Info("listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
