package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tokens"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/desertthunder/nowplaying/internal/tasks"

// ErrAlreadyRunning is returned when a second loop is started on the same coordinator.
var ErrAlreadyRunning = errors.New("coordinator already running")

// errTokenNotReplaced is reported when a refresh ends with the rejected access token still stored,
// which happens when an overlapping exchange failed. It is transient so the next poll refreshes again.
var errTokenNotReplaced = fmt.Errorf("%w: refresh did not replace the rejected access token", shared.ErrTransient)

// Config holds the coordinator's timing.
type Config struct {
	ActiveInterval      time.Duration // Poll cadence while the user is active
	IdleInterval        time.Duration // Poll cadence once the user is idle
	InactivityThreshold time.Duration // Time without activity before the user counts as idle
	IdleCheckInterval   time.Duration // How often the idle state is re-evaluated
	RefreshInterval     time.Duration // Fixed proactive refresh cadence
	RefreshThreshold    time.Duration // Window before expiry that triggers a refresh at poll time
}

// DefaultConfig polls every 5s while active and 30s when idle, and refreshes every 30m.
func DefaultConfig() Config {
	return Config{
		ActiveInterval:      5 * time.Second,
		IdleInterval:        30 * time.Second,
		InactivityThreshold: DefaultInactivityThreshold,
		IdleCheckInterval:   time.Minute,
		RefreshInterval:     30 * time.Minute,
		RefreshThreshold:    tokens.DefaultRefreshThreshold,
	}
}

// ConfigFrom builds a [Config] from the polling section, keeping defaults for unset values.
func ConfigFrom(p shared.PollingConfig) Config {
	cfg := DefaultConfig()
	if p.ActiveInterval.Duration > 0 {
		cfg.ActiveInterval = p.ActiveInterval.Duration
	}
	if p.IdleInterval.Duration > 0 {
		cfg.IdleInterval = p.IdleInterval.Duration
	}
	if p.InactivityThreshold.Duration > 0 {
		cfg.InactivityThreshold = p.InactivityThreshold.Duration
	}
	if p.RefreshInterval.Duration > 0 {
		cfg.RefreshInterval = p.RefreshInterval.Duration
	}
	if p.RefreshThreshold.Duration > 0 {
		cfg.RefreshThreshold = p.RefreshThreshold.Duration
	}
	return cfg
}

// TokenRefresher is satisfied by [tokens.Refresher].
type TokenRefresher interface {
	Refresh(ctx context.Context) (tokens.Result, error)
	Wait(ctx context.Context) error
}

// PlaybackFetcher is satisfied by [Fetcher].
type PlaybackFetcher interface {
	Fetch(ctx context.Context, accessToken string) (*models.PlaybackSnapshot, error)
}

type CoordinatorOption func(*Coordinator)

func WithSink(s Sink) CoordinatorOption {
	return func(c *Coordinator) { c.sink = s }
}

func WithActivity(a *Activity) CoordinatorOption {
	return func(c *Coordinator) { c.activity = a }
}

func WithCoordinatorLogger(l *log.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithConfig(cfg Config) CoordinatorOption {
	return func(c *Coordinator) { c.cfg = cfg }
}

// Coordinator drives polling and token refresh for one session.
type Coordinator struct {
	store     *tokens.Store
	refresher TokenRefresher
	fetcher   PlaybackFetcher
	sink      Sink
	activity  *Activity
	logger    *log.Logger
	tracer    trace.Tracer
	now       func() time.Time
	cfg       Config
	session   string

	loginCh    chan struct{}
	logoutCh   chan struct{}
	retryCh    chan struct{}
	activityCh chan struct{}

	mu    sync.RWMutex
	state models.State
	last  Update

	// Owned by the loop goroutine.
	snapshot     *models.PlaybackSnapshot
	authRejected bool
	idle         bool
	expired      *Update

	running   atomic.Bool
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewCoordinator wires the token store, refresher and fetcher into a coordinator that starts logged out.
func NewCoordinator(store *tokens.Store, refresher TokenRefresher, fetcher PlaybackFetcher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:      store,
		refresher:  refresher,
		fetcher:    fetcher,
		now:        time.Now,
		cfg:        DefaultConfig(),
		session:    shared.GenerateID(),
		loginCh:    make(chan struct{}, 1),
		logoutCh:   make(chan struct{}, 1),
		retryCh:    make(chan struct{}, 1),
		activityCh: make(chan struct{}, 1),
		state:      models.LoggedOut,
	}
	for _, opt := range opts {
		opt(c)
	}

	defaults := DefaultConfig()
	if c.cfg.ActiveInterval <= 0 {
		c.cfg.ActiveInterval = defaults.ActiveInterval
	}
	if c.cfg.IdleInterval <= 0 {
		c.cfg.IdleInterval = defaults.IdleInterval
	}
	if c.cfg.InactivityThreshold <= 0 {
		c.cfg.InactivityThreshold = defaults.InactivityThreshold
	}
	if c.cfg.IdleCheckInterval <= 0 {
		c.cfg.IdleCheckInterval = defaults.IdleCheckInterval
	}
	if c.cfg.RefreshInterval <= 0 {
		c.cfg.RefreshInterval = defaults.RefreshInterval
	}
	if c.cfg.RefreshThreshold <= 0 {
		c.cfg.RefreshThreshold = defaults.RefreshThreshold
	}

	if c.sink == nil {
		c.sink = FuncSink(func(Update) {})
	}
	if c.activity == nil {
		c.activity = NewActivity(c.cfg.InactivityThreshold, c.now)
	}
	c.logger = shared.WithLogger(c.logger, "component", "coordinator", "session", c.session)
	c.tracer = otel.Tracer(tracerName)
	c.last = loggedOutUpdate(c.now())
	return c
}

// Session returns the id attached to this coordinator's logs and spans.
func (c *Coordinator) Session() string {
	return c.session
}

// State returns the current state.
func (c *Coordinator) State() models.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Last returns the most recently published update.
func (c *Coordinator) Last() Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Running reports whether the loop is active.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Login tells the loop that a new credential has been saved.
func (c *Coordinator) Login() { signal(c.loginCh) }

// Logout asks the loop to clear the credential and stop polling.
func (c *Coordinator) Logout() { signal(c.logoutCh) }

// RetryNow asks the loop to poll immediately.
func (c *Coordinator) RetryNow() { signal(c.retryCh) }

// Activity records a user interaction and lets the loop re-evaluate its cadence.
func (c *Coordinator) Activity() {
	c.activity.Touch()
	signal(c.activityCh)
}

// signal coalesces: a pending signal absorbs later ones.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Start runs the loop in a goroutine owned by the coordinator.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.done != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		if err := c.Run(ctx); err != nil {
			c.logger.Error("coordinator exited", "error", err)
		}
	}()
	return nil
}

// Stop cancels the loop started by [Coordinator.Start] and waits for it to exit.
func (c *Coordinator) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.done == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

// Run blocks until ctx is cancelled. Pending timers and in-flight retries are abandoned on return.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.logger.Info("coordinator started", "active", c.cfg.ActiveInterval, "idle", c.cfg.IdleInterval)
	c.idle = !c.activity.Active()
	c.bootstrap(ctx)

	poll := time.NewTimer(c.interval())
	defer poll.Stop()
	c.arm(poll)

	refresh := time.NewTicker(c.cfg.RefreshInterval)
	defer refresh.Stop()
	idleCheck := time.NewTicker(c.cfg.IdleCheckInterval)
	defer idleCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopped")
			return nil
		case <-c.loginCh:
			c.handleLogin(ctx)
		case <-c.logoutCh:
			c.handleLogout(ctx)
		case <-c.retryCh:
			if c.State() == models.LoggedOut {
				continue
			}
			c.cycle(ctx)
		case <-c.activityCh:
			if !c.cadenceChanged() {
				continue
			}
		case <-idleCheck.C:
			if !c.cadenceChanged() {
				continue
			}
		case <-refresh.C:
			if c.State() == models.LoggedOut {
				continue
			}
			c.refresh(ctx, "interval")
			continue
		case <-poll.C:
			c.cycle(ctx)
		}
		c.arm(poll)
	}
}

// PollOnce runs a single cycle without starting the loop.
func (c *Coordinator) PollOnce(ctx context.Context) (Update, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Update{}, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.bootstrap(ctx)
	if err := ctx.Err(); err != nil {
		return c.Last(), err
	}
	return c.Last(), nil
}

func (c *Coordinator) bootstrap(ctx context.Context) {
	cred, err := c.store.Load(ctx)
	if err != nil {
		c.degrade(err)
		return
	}
	if cred == nil {
		c.loggedOut()
		return
	}
	c.setState(models.Polling)
	c.cycle(ctx)
}

func (c *Coordinator) handleLogin(ctx context.Context) {
	c.logger.Info("credential received")
	c.authRejected = false
	c.expired = nil
	c.snapshot = nil
	c.setState(models.Polling)
	c.cycle(ctx)
}

func (c *Coordinator) handleLogout(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("failed to clear credential", "error", err)
	}
	c.snapshot = nil
	c.authRejected = false
	c.expired = nil
	c.logger.Info("logged out")
	c.setLoggedOut(loggedOutUpdate(c.now()))
}

func (c *Coordinator) interval() time.Duration {
	if c.idle {
		return c.cfg.IdleInterval
	}
	return c.cfg.ActiveInterval
}

// cadenceChanged updates the idle flag and reports whether the poll interval changed.
func (c *Coordinator) cadenceChanged() bool {
	idle := !c.activity.Active()
	if idle == c.idle {
		return false
	}
	c.idle = idle
	c.logger.Debug("poll cadence changed", "idle", idle, "interval", c.interval())
	return c.State() != models.LoggedOut
}

func (c *Coordinator) arm(poll *time.Timer) {
	if c.State() == models.LoggedOut {
		poll.Stop()
		return
	}
	poll.Reset(c.interval())
}

// cycle performs one poll: proactive refresh if the token is close to expiry, a fetch, and at most
// one reactive refresh when the fetch is answered Unauthorized.
func (c *Coordinator) cycle(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "coordinator.cycle",
		trace.WithAttributes(attribute.String("session", c.session), attribute.String("state", c.State().String())))
	defer span.End()

	cred, err := c.store.Load(ctx)
	if err != nil {
		c.degrade(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if cred == nil {
		c.loggedOut()
		return
	}

	if c.store.NeedsRefreshSoon(ctx, c.cfg.RefreshThreshold) {
		span.AddEvent("proactive refresh")
		if !c.refresh(ctx, "expiry") {
			span.SetStatus(codes.Error, "refresh failed")
			return
		}
		if cred, err = c.reload(ctx); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return
		}
	}

	if c.snapshot == nil {
		c.publish(loadingUpdate(c.now()))
	}

	snap, err := c.fetcher.Fetch(ctx, cred.AccessToken)
	if errors.Is(err, shared.ErrUnauthorized) {
		if c.authRejected {
			c.rejected(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}

		span.AddEvent("reactive refresh")
		rejected := cred.AccessToken
		if !c.refresh(ctx, "unauthorized") {
			span.SetStatus(codes.Error, "refresh failed")
			return
		}
		if cred, err = c.reload(ctx); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return
		}
		if cred.AccessToken == rejected {
			c.degrade(errTokenNotReplaced)
			span.SetStatus(codes.Error, errTokenNotReplaced.Error())
			return
		}
		snap, err = c.fetcher.Fetch(ctx, cred.AccessToken)
		if errors.Is(err, shared.ErrUnauthorized) {
			c.authRejected = true
			c.rejected(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.degrade(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	c.authRejected = false
	c.snapshot = snap
	c.setState(models.Polling)
	c.publish(playbackUpdate(snap, c.now()))
	span.SetAttributes(attribute.Bool("playing", snap.IsPlaying))
}

// reload reads the credential saved by a refresh. A missing credential here means it was cleared
// underneath the cycle, which is treated as logged out.
func (c *Coordinator) reload(ctx context.Context) (*models.Credential, error) {
	cred, err := c.store.Load(ctx)
	if err != nil {
		c.degrade(err)
		return nil, err
	}
	if cred == nil {
		c.loggedOut()
		return nil, shared.ErrNoCredential
	}
	return cred, nil
}

// refresh moves through Refreshing and reports whether a usable credential is in the store.
//
// An overlapping refresh that the refresher assumed successful is waited out before returning.
// Failure clears the credential and publishes a session-expired update, unless ctx was cancelled.
func (c *Coordinator) refresh(ctx context.Context, reason string) bool {
	ctx, span := c.tracer.Start(ctx, "coordinator.refresh", trace.WithAttributes(attribute.String("reason", reason)))
	defer span.End()

	prev := c.State()
	c.setState(models.Refreshing)
	c.publish(refreshingUpdate(c.snapshot, c.now()))
	c.logger.Info("refreshing access token", "reason", reason)

	res, err := c.refresher.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			c.setState(prev)
			return false
		}

		c.logger.Error("token refresh failed", "reason", reason, "error", err)
		if clearErr := c.store.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			c.logger.Error("failed to clear credential", "error", clearErr)
		}
		c.snapshot = nil
		u := sessionExpiredUpdate(models.Degraded, c.now(), err)
		c.expired = &u
		c.setState(models.Degraded)
		c.publish(u)
		return false
	}

	span.SetAttributes(attribute.Bool("assumed", res.Assumed))
	if res.Assumed {
		if err := c.refresher.Wait(ctx); err != nil {
			c.setState(prev)
			return false
		}
	} else {
		c.authRejected = false
	}
	c.setState(models.Polling)
	return true
}

func (c *Coordinator) rejected(err error) {
	c.logger.Warn("access token rejected after refresh", "error", err)
	c.setState(models.Degraded)
	c.publish(rejectedUpdate(c.snapshot, c.now(), err))
}

func (c *Coordinator) degrade(err error) {
	c.logger.Warn("poll failed", "error", err)
	c.setState(models.Degraded)
	c.publish(degradedUpdate(c.snapshot, c.now(), err))
}

// loggedOut publishes LoggedOut, carrying a pending session-expired error so the sink keeps showing it.
//
// A failed refresh leaves the coordinator Degraded with the credential already cleared. The next
// cycle finds the store empty and lands here, so Degraded turns into LoggedOut without an explicit
// logout.
func (c *Coordinator) loggedOut() {
	c.snapshot = nil
	u := loggedOutUpdate(c.now())
	if c.expired != nil {
		u = *c.expired
		u.State = models.LoggedOut
		u.At = c.now()
		c.expired = nil
	}
	c.setLoggedOut(u)
}

func (c *Coordinator) setLoggedOut(u Update) {
	c.setState(models.LoggedOut)
	c.publish(u)
}

func (c *Coordinator) setState(s models.State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Debug("state changed", "from", prev, "to", s)
	}
}

func (c *Coordinator) publish(u Update) {
	c.mu.Lock()
	c.last = u
	c.mu.Unlock()
	c.sink.Publish(u)
}

func (c *Coordinator) String() string {
	return fmt.Sprintf("coordinator(%s, %s)", c.session, c.State())
}
