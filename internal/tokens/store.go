package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/desertthunder/nowplaying/internal/models"
)

// DefaultRefreshThreshold is how long before expiry a credential counts as needing refresh.
const DefaultRefreshThreshold = 5 * time.Minute

// Persistence keys. Values are strings: the timestamp is unix milliseconds, expires_in is seconds.
const (
	KeyAccessToken  = "spotify_access_token"
	KeyRefreshToken = "spotify_refresh_token"
	KeyIssuedAt     = "spotify_token_timestamp"
	KeyExpiresIn    = "spotify_expires_in"
)

var credentialKeys = []string{KeyAccessToken, KeyRefreshToken, KeyIssuedAt, KeyExpiresIn}

// Persistence is the key-value collaborator the store writes through to.
// Get must return [models.ErrNotFound] for a missing key.
type Persistence interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithClock replaces [time.Now] for expiry checks.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store holds the current credential.
//
// A missing credential is the logged-out state, not an error.
type Store struct {
	mu  sync.RWMutex
	kv  Persistence
	now func() time.Time
}

// NewStore creates a [Store] over kv.
func NewStore(kv Persistence, opts ...StoreOption) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}

// Save overwrites the stored credential.
func (s *Store) Save(ctx context.Context, c models.Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values := map[string]string{
		KeyAccessToken:  c.AccessToken,
		KeyRefreshToken: c.RefreshToken,
		KeyIssuedAt:     strconv.FormatInt(c.IssuedAt.UnixMilli(), 10),
		KeyExpiresIn:    strconv.FormatInt(c.ExpiresInSeconds, 10),
	}
	for _, key := range credentialKeys {
		if err := s.kv.Set(ctx, key, values[key]); err != nil {
			return fmt.Errorf("failed to save %s: %w", key, err)
		}
	}
	return nil
}

// Load returns the stored credential, or nil when there is none.
//
// A credential with any key missing or unparsable is treated as absent.
func (s *Store) Load(ctx context.Context) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) (*models.Credential, error) {
	values := make(map[string]string, len(credentialKeys))
	for _, key := range credentialKeys {
		v, err := s.kv.Get(ctx, key)
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", key, err)
		}
		values[key] = v
	}

	issuedMs, err := strconv.ParseInt(values[KeyIssuedAt], 10, 64)
	if err != nil {
		return nil, nil
	}
	expiresIn, err := strconv.ParseInt(values[KeyExpiresIn], 10, 64)
	if err != nil || values[KeyAccessToken] == "" {
		return nil, nil
	}

	return &models.Credential{
		AccessToken:      values[KeyAccessToken],
		RefreshToken:     values[KeyRefreshToken],
		IssuedAt:         time.UnixMilli(issuedMs),
		ExpiresInSeconds: expiresIn,
	}, nil
}

// Clear removes the credential. Clearing an empty store is not an error.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, key := range credentialKeys {
		if err := s.kv.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// IsValid reports whether a credential exists and now is before its expiry.
func (s *Store) IsValid(ctx context.Context) bool {
	c, err := s.Load(ctx)
	if err != nil || c == nil {
		return false
	}
	return s.now().Before(c.ExpiresAt())
}

// NeedsRefreshSoon reports whether there is no credential or now is past expiry minus threshold.
func (s *Store) NeedsRefreshSoon(ctx context.Context, threshold time.Duration) bool {
	c, err := s.Load(ctx)
	if err != nil || c == nil {
		return true
	}
	return s.now().After(c.ExpiresAt().Add(-threshold))
}

// ExpiresAt returns the stored credential's expiry, if any.
func (s *Store) ExpiresAt(ctx context.Context) (time.Time, bool) {
	c, err := s.Load(ctx)
	if err != nil || c == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt(), true
}

// Remaining returns the time left before expiry; negative once expired.
func (s *Store) Remaining(ctx context.Context) (time.Duration, bool) {
	at, ok := s.ExpiresAt(ctx)
	if !ok {
		return 0, false
	}
	return at.Sub(s.now()), true
}
