package tokens

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/nowplaying/internal/services"
	"github.com/desertthunder/nowplaying/internal/shared"
	tu "github.com/desertthunder/nowplaying/internal/testing"
)

func newTestRefresher(t *testing.T, auth *tu.ScriptedAuth, opts ...RefresherOption) (*Refresher, *Store, *tu.FakeSleeper, *tu.FakeClock) {
	t.Helper()
	store, _, clock := newTestStore(t)
	if err := store.Save(context.Background(), hourCredential()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	sleeper := &tu.FakeSleeper{}
	policy := shared.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: sleeper.Sleep}
	opts = append([]RefresherOption{WithRetryPolicy(policy)}, opts...)
	return NewRefresher(store, auth, opts...), store, sleeper, clock
}

func grant(access, refresh string) tu.RefreshResult {
	return tu.RefreshResult{Grant: &services.TokenGrant{AccessToken: access, RefreshToken: refresh, ExpiresInSeconds: 3600}}
}

func TestRefresher(t *testing.T) {
	ctx := context.Background()

	t.Run("success updates the store before returning", func(t *testing.T) {
		auth := &tu.ScriptedAuth{Results: []tu.RefreshResult{grant("new-access", "")}}
		r, store, sleeper, clock := newTestRefresher(t, auth)
		clock.Advance(50 * time.Minute)

		res, err := r.Refresh(ctx)
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if res.Assumed || res.Credential == nil {
			t.Fatalf("expected a real result, got %+v", res)
		}

		stored, _ := store.Load(ctx)
		if stored.AccessToken != "new-access" {
			t.Errorf("expected new access token stored, got %q", stored.AccessToken)
		}
		if stored.RefreshToken != "refresh" {
			t.Errorf("previous refresh token should be kept, got %q", stored.RefreshToken)
		}
		if !stored.IssuedAt.Equal(clock.Now()) {
			t.Errorf("issuedAt should be now, got %v", stored.IssuedAt)
		}
		if got := auth.RefreshTokens(); len(got) != 1 || got[0] != "refresh" {
			t.Errorf("expected stored refresh token sent once, got %v", got)
		}
		if len(sleeper.Sleeps()) != 0 {
			t.Errorf("no waits expected, got %v", sleeper.Sleeps())
		}
	})

	t.Run("rotated refresh token is stored", func(t *testing.T) {
		auth := &tu.ScriptedAuth{Results: []tu.RefreshResult{grant("new-access", "rotated")}}
		r, store, _, _ := newTestRefresher(t, auth)

		if _, err := r.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		stored, _ := store.Load(ctx)
		if stored.RefreshToken != "rotated" {
			t.Errorf("expected rotated refresh token, got %q", stored.RefreshToken)
		}
	})

	t.Run("transient failures back off 2s then 4s", func(t *testing.T) {
		auth := &tu.ScriptedAuth{Results: []tu.RefreshResult{
			{Err: tu.Status(503)},
			{Err: tu.Status(503)},
			grant("new-access", ""),
		}}
		r, store, sleeper, _ := newTestRefresher(t, auth)

		if _, err := r.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if auth.Calls() != 3 {
			t.Errorf("expected 3 attempts, got %d", auth.Calls())
		}

		sleeps := sleeper.Sleeps()
		if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 4*time.Second {
			t.Errorf("expected waits [2s 4s], got %v", sleeps)
		}
		if sleeper.Total() < 6*time.Second {
			t.Errorf("expected at least 6s of waiting, got %v", sleeper.Total())
		}
		if stored, _ := store.Load(ctx); stored.AccessToken != "new-access" {
			t.Errorf("expected store updated, got %q", stored.AccessToken)
		}
	})

	t.Run("rate limit waits retry-after only", func(t *testing.T) {
		auth := &tu.ScriptedAuth{Results: []tu.RefreshResult{
			{Err: tu.RateLimited(2 * time.Second)},
			grant("new-access", ""),
		}}
		r, _, sleeper, _ := newTestRefresher(t, auth)

		if _, err := r.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		sleeps := sleeper.Sleeps()
		if len(sleeps) != 1 || sleeps[0] != 2*time.Second {
			t.Errorf("expected a single 2s wait, got %v", sleeps)
		}
	})

	t.Run("exhausted retries", func(t *testing.T) {
		auth := &tu.ScriptedAuth{Results: []tu.RefreshResult{{Err: tu.Status(502)}}}
		r, store, _, _ := newTestRefresher(t, auth)

		_, err := r.Refresh(ctx)
		if !errors.Is(err, shared.ErrRefreshExhausted) {
			t.Fatalf("expected ErrRefreshExhausted, got %v", err)
		}
		if !errors.Is(err, shared.ErrTransient) {
			t.Errorf("expected last provider error wrapped, got %v", err)
		}
		if auth.Calls() != 3 {
			t.Errorf("expected 3 attempts, got %d", auth.Calls())
		}
		if stored, _ := store.Load(ctx); stored.AccessToken != "access" {
			t.Error("failed refresh must not touch the stored credential")
		}
	})

	t.Run("rejected refresh stops immediately", func(t *testing.T) {
		for _, status := range []int{400, 401} {
			auth := &tu.ScriptedAuth{Results: []tu.RefreshResult{{Err: tu.Status(status)}}}
			r, _, sleeper, _ := newTestRefresher(t, auth)

			if _, err := r.Refresh(ctx); !errors.Is(err, shared.ErrRefreshExhausted) {
				t.Errorf("status %d: expected ErrRefreshExhausted, got %v", status, err)
			}
			if auth.Calls() != 1 || len(sleeper.Sleeps()) != 0 {
				t.Errorf("status %d: expected one attempt without waits, got %d calls", status, auth.Calls())
			}
		}
	})

	t.Run("no refresh token", func(t *testing.T) {
		auth := &tu.ScriptedAuth{}
		store, _, _ := newTestStore(t)
		r := NewRefresher(store, auth)

		_, err := r.Refresh(ctx)
		if !errors.Is(err, shared.ErrRefreshExhausted) || !errors.Is(err, shared.ErrNoRefreshToken) {
			t.Errorf("expected ErrRefreshExhausted wrapping ErrNoRefreshToken, got %v", err)
		}
		if auth.Calls() != 0 {
			t.Errorf("expected no exchange, got %d", auth.Calls())
		}
	})

	t.Run("RefreshWith uses the given token", func(t *testing.T) {
		auth := &tu.ScriptedAuth{Results: []tu.RefreshResult{grant("new-access", "")}}
		r, store, _, _ := newTestRefresher(t, auth)

		if _, err := r.RefreshWith(ctx, "explicit"); err != nil {
			t.Fatalf("RefreshWith() error = %v", err)
		}
		if got := auth.RefreshTokens(); got[0] != "explicit" {
			t.Errorf("expected explicit token sent, got %v", got)
		}
		if stored, _ := store.Load(ctx); stored.RefreshToken != "explicit" {
			t.Errorf("expected explicit token kept, got %q", stored.RefreshToken)
		}
	})
}

func TestRefresherConcurrency(t *testing.T) {
	const callers = 8
	ctx := context.Background()

	t.Run("assume success", func(t *testing.T) {
		gate := make(chan struct{})
		auth := &tu.ScriptedAuth{Gate: gate, Results: []tu.RefreshResult{grant("new-access", "")}}
		r, _, _, _ := newTestRefresher(t, auth)

		first := make(chan error, 1)
		go func() {
			_, err := r.Refresh(ctx)
			first <- err
		}()
		tu.Eventually(t, time.Second, func() bool { return auth.Calls() == 1 }, "first exchange started")

		var wg sync.WaitGroup
		results := make([]Result, callers-1)
		errs := make([]error, callers-1)
		for i := range callers - 1 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = r.Refresh(ctx)
			}(i)
		}
		wg.Wait()

		for i := range results {
			if errs[i] != nil || !results[i].Assumed {
				t.Errorf("caller %d: expected assumed success, got %+v, %v", i, results[i], errs[i])
			}
		}

		close(gate)
		if err := <-first; err != nil {
			t.Fatalf("first caller error = %v", err)
		}
		if auth.Calls() != 1 || r.Exchanges() != 1 {
			t.Errorf("expected exactly one exchange, got %d", auth.Calls())
		}
		if r.InFlight() {
			t.Error("flag should be cleared after the exchange")
		}
	})

	t.Run("await in flight", func(t *testing.T) {
		gate := make(chan struct{})
		auth := &tu.ScriptedAuth{Gate: gate, Results: []tu.RefreshResult{grant("new-access", "")}}
		r, _, _, _ := newTestRefresher(t, auth, WithOverlapPolicy(AwaitInFlight))

		var wg sync.WaitGroup
		results := make([]Result, callers)
		errs := make([]error, callers)
		for i := range callers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = r.Refresh(ctx)
			}(i)
		}

		tu.Eventually(t, time.Second, func() bool { return r.Waiters() == callers && auth.Calls() == 1 }, "all callers joined")
		time.Sleep(10 * time.Millisecond)
		close(gate)
		wg.Wait()

		for i := range results {
			if errs[i] != nil || results[i].Assumed || results[i].Credential == nil {
				t.Fatalf("caller %d: expected shared credential, got %+v, %v", i, results[i], errs[i])
			}
			if results[i].Credential.AccessToken != "new-access" {
				t.Errorf("caller %d: unexpected token %q", i, results[i].Credential.AccessToken)
			}
		}
		if auth.Calls() != 1 {
			t.Errorf("expected exactly one exchange, got %d", auth.Calls())
		}
	})

	t.Run("joiner outlives cancelled leader", func(t *testing.T) {
		gate := make(chan struct{})
		auth := &tu.ScriptedAuth{Gate: gate, Results: []tu.RefreshResult{grant("new-access", "")}}
		r, store, _, _ := newTestRefresher(t, auth, WithOverlapPolicy(AwaitInFlight))

		leaderCtx, cancel := context.WithCancel(ctx)
		leader := make(chan error, 1)
		go func() {
			_, err := r.Refresh(leaderCtx)
			leader <- err
		}()
		tu.Eventually(t, time.Second, func() bool { return auth.Calls() == 1 }, "leader exchange started")

		type outcome struct {
			res Result
			err error
		}
		joiner := make(chan outcome, 1)
		go func() {
			res, err := r.Refresh(ctx)
			joiner <- outcome{res, err}
		}()
		tu.Eventually(t, time.Second, func() bool { return r.Waiters() == 2 }, "joiner waiting")

		cancel()
		if err := <-leader; !errors.Is(err, context.Canceled) || !errors.Is(err, shared.ErrRefreshExhausted) {
			t.Fatalf("leader error = %v, want cancellation", err)
		}

		close(gate)
		got := <-joiner
		if got.err != nil || got.res.Credential == nil || got.res.Credential.AccessToken != "new-access" {
			t.Fatalf("joiner = %+v, %v; want new-access", got.res, got.err)
		}
		cred, err := store.Load(ctx)
		if err != nil || cred == nil || cred.AccessToken != "new-access" {
			t.Errorf("stored credential = %+v, %v", cred, err)
		}
		if auth.Calls() != 1 {
			t.Errorf("expected exactly one exchange, got %d", auth.Calls())
		}
	})

	t.Run("wait blocks until the exchange lands", func(t *testing.T) {
		gate := make(chan struct{})
		auth := &tu.ScriptedAuth{Gate: gate, Results: []tu.RefreshResult{grant("new-access", "")}}
		r, store, _, _ := newTestRefresher(t, auth)

		if err := r.Wait(ctx); err != nil {
			t.Fatalf("Wait with nothing in flight = %v", err)
		}

		first := make(chan error, 1)
		go func() {
			_, err := r.Refresh(ctx)
			first <- err
		}()
		tu.Eventually(t, time.Second, func() bool { return auth.Calls() == 1 }, "exchange started")

		res, err := r.Refresh(ctx)
		if err != nil || !res.Assumed {
			t.Fatalf("overlapping refresh = %+v, %v; want assumed", res, err)
		}

		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		if err := r.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Wait while gated = %v, want deadline exceeded", err)
		}

		close(gate)
		if err := r.Wait(ctx); err != nil {
			t.Fatalf("Wait = %v", err)
		}
		if err := <-first; err != nil {
			t.Fatalf("first caller error = %v", err)
		}
		cred, _ := store.Load(ctx)
		if cred == nil || cred.AccessToken != "new-access" {
			t.Errorf("stored credential = %+v, want new-access after Wait", cred)
		}
	})

	t.Run("flag clears after failure", func(t *testing.T) {
		auth := &tu.ScriptedAuth{Results: []tu.RefreshResult{{Err: tu.Status(400)}, grant("new-access", "")}}
		r, _, _, _ := newTestRefresher(t, auth)

		if _, err := r.Refresh(ctx); err == nil {
			t.Fatal("expected first refresh to fail")
		}
		res, err := r.Refresh(ctx)
		if err != nil || res.Assumed {
			t.Errorf("second refresh should run a new exchange, got %+v, %v", res, err)
		}
	})
}

func TestParseOverlapPolicy(t *testing.T) {
	tc := map[string]OverlapPolicy{"": AssumeSuccess, "assume-success": AssumeSuccess, "AWAIT": AwaitInFlight}
	for in, want := range tc {
		got, err := ParseOverlapPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseOverlapPolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseOverlapPolicy("parallel"); !errors.Is(err, shared.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
