package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/server"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/urfave/cli/v3"
)

// authTimeout is how long `auth login` waits for the OAuth callback.
const authTimeout = 2 * time.Minute

// AuthLogin performs the OAuth2 authorization code flow for Spotify.
//
// Starts a local HTTP server on the redirect URI, opens the browser for user authorization,
// and saves the exchanged credential to the token store.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	store, _, err := r.providers(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = authTimeout
	}

	cred, err := r.doOAuth(ctx, !cmd.Bool("no-browser"), timeout)
	if err != nil {
		return err
	}

	if err := store.Save(ctx, *cred); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Tokens saved to the %s store (expires %s)\n\n", r.config.Store.Type, cred.ExpiresAt().Local().Format(time.Kitchen))
	r.writePlain("You can now use: nowplaying now\n")
	return nil
}

func (r *Runner) doOAuth(ctx context.Context, openBrowser bool, timeout time.Duration) (*models.Credential, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := r.auth.AuthURL(state)
	oauthHandler := server.NewOAuthHandler(r.auth, state, server.CallbackPath(r.config.Credentials.Spotify.RedirectURI))
	router := server.NewRouter(r.logger)
	server.Register(router, oauthHandler)

	serverAddr := r.config.Server.Addr()
	httpServer := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth server at %v", serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	opened := false
	if openBrowser {
		r.writePlain("→ Opening browser for Spotify authorization...\n")
		if err := r.open(authURL); err != nil {
			r.logger.Warnf("failed to open browser automatically %v", err)
			r.writePlainln("⚠ Could not open browser automatically.")
		} else {
			opened = true
		}
	}
	if !opened {
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrAuthFailed, result.Error())
	}

	if result.Credential == nil {
		return nil, fmt.Errorf("%w: no credential received", shared.ErrAuthFailed)
	}

	return result.Credential, nil
}

// AuthLogout clears every stored token.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	store, err := r.tokenStore(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	r.logger.Info("tokens cleared")
	return r.writePlain("✓ Logged out\n")
}

type authStatus struct {
	LoggedIn     bool       `json:"logged_in"`
	Valid        bool       `json:"valid"`
	Store        string     `json:"store"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Remaining    string     `json:"remaining,omitempty"`
	RefreshToken bool       `json:"has_refresh_token"`
}

// AuthStatus reports the stored session without contacting Spotify.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	store, err := r.tokenStore(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	cred, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load credential: %w", err)
	}

	status := authStatus{Store: r.config.Store.Type}
	if cred != nil {
		expires := cred.ExpiresAt()
		status.LoggedIn = true
		status.ExpiresAt = &expires
		status.Valid = store.IsValid(ctx)
		status.RefreshToken = cred.RefreshToken != ""
		if remaining, ok := store.Remaining(ctx); ok {
			status.Remaining = remaining.Truncate(time.Second).String()
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}

	r.writePlainHeader("Spotify session")
	if !status.LoggedIn {
		r.writePlain("Status: ✗ Not logged in\n")
		return r.writePlain("Run 'nowplaying auth login' to connect.\n")
	}
	if status.Valid {
		r.writePlain("Status: ✓ Logged in\n")
		r.writePlain("Expires in: %s\n", status.Remaining)
	} else {
		r.writePlain("Status: ⚠ Access token expired\n")
	}
	r.writePlain("Expires at: %s\n", status.ExpiresAt.Local().Format(time.RFC1123))
	return r.writePlain("Store: %s\n", status.Store)
}

// AuthRefresh forces a token refresh.
func (r *Runner) AuthRefresh(ctx context.Context, cmd *cli.Command) error {
	_, refresher, err := r.providers(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	result, err := refresher.Refresh(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrNoRefreshToken) {
			return fmt.Errorf("%w: run 'nowplaying auth login' first", shared.ErrNotAuthenticated)
		}
		return err
	}
	if result.Credential == nil {
		return r.writePlain("→ A refresh was already in progress\n")
	}
	return r.writePlain("✓ Access token refreshed (expires %s)\n", result.Credential.ExpiresAt().Local().Format(time.Kitchen))
}
