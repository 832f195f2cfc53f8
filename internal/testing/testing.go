// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/services"
	"github.com/desertthunder/nowplaying/internal/shared"
)

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

// FakeClock is a settable clock for token expiry and inactivity checks.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// FakeSleeper records requested waits without waiting on the clock. It satisfies [shared.Sleeper] via Sleep.
//
// When Gate is set each Sleep blocks until Gate is closed or ctx is done.
type FakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
	Gate   chan struct{}
}

func (s *FakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	gate := s.Gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}

// Sleeps returns a copy of the recorded waits.
func (s *FakeSleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// Total sums the recorded waits.
func (s *FakeSleeper) Total() time.Duration {
	var total time.Duration
	for _, d := range s.Sleeps() {
		total += d
	}
	return total
}

var _ shared.Sleeper = (&FakeSleeper{}).Sleep

// RecordingSink keeps every published value.
type RecordingSink[T any] struct {
	mu      sync.Mutex
	updates []T
}

func (r *RecordingSink[T]) Publish(u T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *RecordingSink[T]) Updates() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.updates...)
}

// Last returns the most recent value and whether there was one.
func (r *RecordingSink[T]) Last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.updates) == 0 {
		return zero, false
	}
	return r.updates[len(r.updates)-1], true
}

// RefreshResult is one scripted outcome of [ScriptedAuth.Refresh].
type RefreshResult struct {
	Grant *services.TokenGrant
	Err   error
}

// ScriptedAuth is a test double for [services.AuthProvider] that replays Results in order.
// Once the script runs out the last entry repeats.
//
// When Gate is non-nil every Refresh call blocks on it after being counted.
type ScriptedAuth struct {
	mu          sync.Mutex
	Results     []RefreshResult
	Credential  *models.Credential
	ExchangeErr error
	Gate        chan struct{}
	calls       int
	tokens      []string
}

func (a *ScriptedAuth) AuthURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + state
}

func (a *ScriptedAuth) Exchange(ctx context.Context, code string) (*models.Credential, error) {
	if a.ExchangeErr != nil {
		return nil, a.ExchangeErr
	}
	if a.Credential == nil {
		return nil, errors.New("no credential scripted")
	}
	c := *a.Credential
	return &c, nil
}

func (a *ScriptedAuth) Refresh(ctx context.Context, refreshToken string) (*services.TokenGrant, error) {
	a.mu.Lock()
	idx := a.calls
	a.calls++
	a.tokens = append(a.tokens, refreshToken)
	gate := a.Gate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Results) == 0 {
		return nil, errors.New("no refresh result scripted")
	}
	if idx >= len(a.Results) {
		idx = len(a.Results) - 1
	}
	r := a.Results[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	g := *r.Grant
	return &g, nil
}

// Calls returns how many refresh exchanges were attempted.
func (a *ScriptedAuth) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// RefreshTokens returns the refresh tokens that were sent, in order.
func (a *ScriptedAuth) RefreshTokens() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.tokens...)
}

// PlaybackResult is one scripted outcome of [ScriptedPlayback.CurrentPlayback].
type PlaybackResult struct {
	Snapshot *models.PlaybackSnapshot
	Err      error
}

// ScriptedPlayback is a test double for [services.PlaybackProvider] that replays Results in order.
// Once the script runs out the last entry repeats.
type ScriptedPlayback struct {
	mu      sync.Mutex
	Results []PlaybackResult
	calls   int
	tokens  []string
}

func (p *ScriptedPlayback) CurrentPlayback(ctx context.Context, accessToken string) (*models.PlaybackSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.calls
	p.calls++
	p.tokens = append(p.tokens, accessToken)

	if len(p.Results) == 0 {
		return models.NotPlaying(), nil
	}
	if idx >= len(p.Results) {
		idx = len(p.Results) - 1
	}
	r := p.Results[idx]
	return r.Snapshot, r.Err
}

func (p *ScriptedPlayback) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Tokens returns the access tokens that were sent, in order.
func (p *ScriptedPlayback) Tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tokens...)
}

// Status builds the classified provider error for an HTTP status.
func Status(code int) error {
	return shared.Classify(code, nil, nil)
}

// RateLimited builds a 429 provider error carrying retryAfter.
func RateLimited(retryAfter time.Duration) error {
	return &shared.ProviderError{Kind: shared.ErrRateLimited, Status: http.StatusTooManyRequests, RetryAfter: retryAfter}
}

// Playing builds a playing snapshot for a track name.
func Playing(name string) *models.PlaybackSnapshot {
	return &models.PlaybackSnapshot{
		IsPlaying: true,
		Track:     &models.Track{Name: name, Artist: "Artist", Album: "Album", DurationMs: 200000, ProgressMs: 1000},
	}
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
