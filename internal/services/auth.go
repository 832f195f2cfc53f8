package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// DefaultRedirectURI is used when the credentials carry no redirect_uri.
const DefaultRedirectURI = "http://127.0.0.1:8888/callback"

// defaultExpiresIn applies when the token response carries neither expires_in nor an expiry.
const defaultExpiresIn = 3600

// SpotifyAuth implements [AuthProvider] against the Spotify accounts service using [oauth2].
type SpotifyAuth struct {
	config     *oauth2.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
	now        func() time.Time
}

// NewSpotifyAuth creates the auth provider from client credentials.
func NewSpotifyAuth(credentials map[string]string, opts ...Option) (*SpotifyAuth, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id in credentials", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret in credentials", shared.ErrMissingCredentials)
	}

	redirectURI, ok := credentials["redirect_uri"]
	if !ok || redirectURI == "" {
		redirectURI = DefaultRedirectURI
	}

	o := newOptions(opts)
	endpoint := oauth2.Endpoint{
		AuthURL:   spotifyauth.AuthURL,
		TokenURL:  spotifyauth.TokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	if o.authURL != "" {
		endpoint.AuthURL = o.authURL
	}
	if o.tokenURL != "" {
		endpoint.TokenURL = o.tokenURL
	}

	return &SpotifyAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes: []string{
				spotifyauth.ScopeUserReadCurrentlyPlaying,
				spotifyauth.ScopeUserReadPlaybackState,
			},
			Endpoint: endpoint,
		},
		httpClient: o.httpClient,
		limiter:    o.limiter,
		logger:     shared.WithLogger(o.logger, "provider", "spotify-auth"),
		now:        o.now,
	}, nil
}

// AuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyAuth) AuthURL(state string) string {
	return s.config.AuthCodeURL(state)
}

// RedirectURL returns the configured callback URL.
func (s *SpotifyAuth) RedirectURL() string {
	return s.config.RedirectURL
}

// Exchange trades the authorization code from the callback for a credential issued now.
func (s *SpotifyAuth) Exchange(ctx context.Context, code string) (cred *models.Credential, err error) {
	ctx, span := startSpan(ctx, "spotify.exchange")
	defer func() { endSpan(span, err) }()

	if code == "" {
		return nil, &shared.ProviderError{Kind: shared.ErrFatal, Err: fmt.Errorf("%w: empty authorization code", shared.ErrInvalidInput)}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	tok, err := s.config.Exchange(s.clientContext(ctx), code)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	now := s.now()
	s.logger.Debug("exchanged authorization code", "expires_in", expiresIn(tok, now))
	return &models.Credential{
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		IssuedAt:         now,
		ExpiresInSeconds: expiresIn(tok, now),
	}, nil
}

// Refresh performs the refresh_token grant once.
func (s *SpotifyAuth) Refresh(ctx context.Context, refreshToken string) (grant *TokenGrant, err error) {
	ctx, span := startSpan(ctx, "spotify.refresh")
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		return nil, &shared.ProviderError{Kind: shared.ErrFatal, Err: shared.ErrNoRefreshToken}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	// An empty access token forces the token source to hit the token endpoint.
	src := s.config.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}

	grant = &TokenGrant{
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		ExpiresInSeconds: expiresIn(tok, s.now()),
	}
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	span.SetAttributes(attribute.Bool("oauth.refresh_token_rotated", grant.RefreshToken != refreshToken))
	return grant, nil
}

func (s *SpotifyAuth) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// classifyTokenError maps an oauth2 token endpoint failure onto the provider taxonomy.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return shared.Classify(re.Response.StatusCode, re.Response.Header, err)
	}
	return shared.Classify(0, nil, err)
}

// expiresIn prefers the raw expires_in field, then the computed expiry, then one hour.
func expiresIn(tok *oauth2.Token, now time.Time) int64 {
	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}
	if !tok.Expiry.IsZero() {
		if d := tok.Expiry.Sub(now).Round(time.Second); d > 0 {
			return int64(d / time.Second)
		}
	}
	return defaultExpiresIn
}
