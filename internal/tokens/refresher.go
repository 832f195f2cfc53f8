package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/services"
	"github.com/desertthunder/nowplaying/internal/shared"
	"golang.org/x/sync/singleflight"
)

// ExchangeTimeout bounds a shared [AwaitInFlight] exchange once it no longer follows a caller's context.
const ExchangeTimeout = 2 * time.Minute

// OverlapPolicy decides what a caller gets when a refresh is already in flight.
type OverlapPolicy int

const (
	// AssumeSuccess returns immediately with Result.Assumed set, without waiting.
	AssumeSuccess OverlapPolicy = iota
	// AwaitInFlight blocks until the in-flight exchange finishes and shares its outcome.
	AwaitInFlight
)

func (p OverlapPolicy) String() string {
	if p == AwaitInFlight {
		return "await"
	}
	return "assume-success"
}

// ParseOverlapPolicy reads the [polling] concurrent_refresh setting. Empty means [AssumeSuccess].
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "assume-success":
		return AssumeSuccess, nil
	case "await":
		return AwaitInFlight, nil
	default:
		return AssumeSuccess, fmt.Errorf("%w: unknown concurrent_refresh %q", shared.ErrInvalidConfig, s)
	}
}

// Refreshing is the provider side of a refresh: [services.SpotifyAuth] in production.
type Refreshing interface {
	Refresh(ctx context.Context, refreshToken string) (*services.TokenGrant, error)
}

// Result describes a completed refresh call.
//
// Assumed is set when the call overlapped an in-flight exchange under [AssumeSuccess];
// Credential is nil in that case.
type Result struct {
	Credential *models.Credential
	Assumed    bool
}

// RefresherOption configures a [Refresher].
type RefresherOption func(*Refresher)

func WithRetryPolicy(p shared.RetryPolicy) RefresherOption {
	return func(r *Refresher) { r.policy = p }
}

func WithOverlapPolicy(p OverlapPolicy) RefresherOption {
	return func(r *Refresher) { r.overlap = p }
}

func WithRefresherLogger(l *log.Logger) RefresherOption {
	return func(r *Refresher) { r.logger = l }
}

// Refresher exchanges the stored refresh token for a new access token.
type Refresher struct {
	store   *Store
	auth    Refreshing
	policy  shared.RetryPolicy
	overlap OverlapPolicy
	logger  *log.Logger

	mu        sync.Mutex
	flight    chan struct{}
	inFlight  atomic.Bool
	waiting   atomic.Int32
	exchanges atomic.Int64
	group     singleflight.Group
}

// NewRefresher creates a [Refresher] writing through to store.
func NewRefresher(store *Store, auth Refreshing, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:   store,
		auth:    auth,
		policy:  shared.DefaultRetryPolicy(),
		overlap: AssumeSuccess,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = shared.WithLogger(r.logger, "component", "refresher")
	if r.policy.Logger == nil {
		r.policy.Logger = r.logger
	}
	return r
}

// InFlight reports whether an exchange is running.
func (r *Refresher) InFlight() bool {
	return r.inFlight.Load()
}

// Exchanges returns how many exchanges this refresher has started.
func (r *Refresher) Exchanges() int64 {
	return r.exchanges.Load()
}

// Refresh refreshes using the refresh token held by the store.
func (r *Refresher) Refresh(ctx context.Context) (Result, error) {
	cred, err := r.store.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", shared.ErrRefreshExhausted, err)
	}
	if cred == nil || cred.RefreshToken == "" {
		return Result{}, fmt.Errorf("%w: %w", shared.ErrRefreshExhausted, shared.ErrNoRefreshToken)
	}
	return r.RefreshWith(ctx, cred.RefreshToken)
}

// RefreshWith exchanges refreshToken and saves the new credential before returning.
//
// On failure the error matches [shared.ErrRefreshExhausted] and wraps the last provider error.
func (r *Refresher) RefreshWith(ctx context.Context, refreshToken string) (Result, error) {
	if refreshToken == "" {
		return Result{}, fmt.Errorf("%w: %w", shared.ErrRefreshExhausted, shared.ErrNoRefreshToken)
	}

	switch r.overlap {
	case AwaitInFlight:
		ch := r.group.DoChan("refresh", func() (any, error) {
			flight, _ := r.begin()
			defer r.end(flight)
			r.logger.Debug("refresh shared", "callers", r.waiting.Load())

			// Detached from the leader; each caller stops waiting on its own ctx below.
			detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), ExchangeTimeout)
			defer cancel()
			return r.exchange(detached, refreshToken)
		})
		r.waiting.Add(1)
		defer r.waiting.Add(-1)

		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %w", shared.ErrRefreshExhausted, ctx.Err())
		case res := <-ch:
			if res.Err != nil {
				return Result{}, res.Err
			}
			if res.Shared {
				r.logger.Debug("joined in-flight refresh")
			}
			cred := *res.Val.(*models.Credential)
			return Result{Credential: &cred}, nil
		}
	default:
		flight, ok := r.begin()
		if !ok {
			r.logger.Debug("refresh already in flight, assuming success")
			return Result{Assumed: true}, nil
		}
		defer r.end(flight)

		cred, err := r.exchange(ctx, refreshToken)
		if err != nil {
			return Result{}, err
		}
		return Result{Credential: cred}, nil
	}
}

// Wait blocks until the exchange in flight, if any, has finished.
//
// Callers handed an assumed [Result] use it before reloading the store.
func (r *Refresher) Wait(ctx context.Context) error {
	r.mu.Lock()
	flight := r.flight
	r.mu.Unlock()
	if flight == nil {
		return nil
	}
	select {
	case <-flight:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) begin() (chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flight != nil {
		return nil, false
	}
	r.flight = make(chan struct{})
	r.inFlight.Store(true)
	return r.flight, true
}

func (r *Refresher) end(flight chan struct{}) {
	if flight == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight.Store(false)
	r.flight = nil
	close(flight)
}

func (r *Refresher) exchange(ctx context.Context, refreshToken string) (*models.Credential, error) {
	r.exchanges.Add(1)
	started := time.Now()

	var grant *services.TokenGrant
	err := r.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		g, err := r.auth.Refresh(ctx, refreshToken)
		if err != nil {
			r.logger.Warn("refresh attempt failed", "attempt", attempt, "error", err)
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrUnauthorized) || errors.Is(err, shared.ErrFatal) {
			r.logger.Error("refresh rejected", "error", err)
		}
		return nil, fmt.Errorf("%w: %w", shared.ErrRefreshExhausted, err)
	}

	next := grant.RefreshToken
	if next == "" {
		next = refreshToken
	}
	cred := &models.Credential{
		AccessToken:      grant.AccessToken,
		RefreshToken:     next,
		IssuedAt:         r.store.Now(),
		ExpiresInSeconds: grant.ExpiresInSeconds,
	}
	if err := r.store.Save(ctx, *cred); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRefreshExhausted, err)
	}

	r.logger.Info("access token refreshed", "expires_in", cred.ExpiresInSeconds, "elapsed", time.Since(started))
	return cred, nil
}
