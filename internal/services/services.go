// package services implements the Spotify auth and playback providers.
//
// Each call is a single attempt whose failure is classified into the
// shared provider error taxonomy. Retries belong to the callers.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/desertthunder/nowplaying/internal/services"

// AuthProvider exchanges authorization codes and refresh tokens for access tokens.
type AuthProvider interface {
	// AuthURL returns the consent page URL carrying state.
	AuthURL(state string) string

	// Exchange trades an authorization code for a new [models.Credential].
	Exchange(ctx context.Context, code string) (*models.Credential, error)

	// Refresh trades a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
}

// PlaybackProvider reports what the user is currently playing.
type PlaybackProvider interface {
	// CurrentPlayback returns the playback snapshot for the user owning accessToken.
	CurrentPlayback(ctx context.Context, accessToken string) (*models.PlaybackSnapshot, error)
}

// TokenGrant is the result of a refresh-token exchange.
//
// RefreshToken holds the rotated token if the provider issued one, otherwise the token that was sent.
type TokenGrant struct {
	AccessToken      string
	RefreshToken     string
	ExpiresInSeconds int64
}

// Option configures a provider.
type Option func(*options)

type options struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
	now        func() time.Time
	authURL    string
	tokenURL   string
	apiBaseURL string
}

func newOptions(opts []Option) *options {
	o := &options{
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		now:        time.Now,
		apiBaseURL: spotifyBaseURL,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = shared.DiscardLogger()
	}
	return o
}

// WithHTTPClient overrides the HTTP client (default [http.DefaultClient]).
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithRateLimit throttles outgoing requests to rps per second. Zero or negative disables throttling.
func WithRateLimit(rps float64) Option {
	return func(o *options) {
		if rps <= 0 {
			o.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEndpoints points the providers at alternative accounts and API hosts.
// Empty values keep the Spotify defaults.
func WithEndpoints(authURL, tokenURL, apiBaseURL string) Option {
	return func(o *options) {
		if authURL != "" {
			o.authURL = authURL
		}
		if tokenURL != "" {
			o.tokenURL = tokenURL
		}
		if apiBaseURL != "" {
			o.apiBaseURL = apiBaseURL
		}
	}
}

// startSpan opens a client span for a provider call.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// endSpan records the classified outcome on span and ends it.
func endSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	var pe *shared.ProviderError
	if errors.As(err, &pe) {
		span.SetAttributes(
			attribute.String("provider.outcome", pe.Kind.Error()),
			attribute.Int("http.status_code", pe.Status),
		)
		if d, ok := shared.RetryAfterOf(err); ok {
			span.SetAttributes(attribute.Int64("provider.retry_after_ms", d.Milliseconds()))
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
