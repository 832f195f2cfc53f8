package tasks

import (
	"sync"
	"time"
)

// DefaultInactivityThreshold is how long without interaction before the user counts as idle.
const DefaultInactivityThreshold = 5 * time.Minute

// Activity records the most recent user interaction.
type Activity struct {
	mu        sync.Mutex
	last      time.Time
	threshold time.Duration
	now       func() time.Time
}

// NewActivity starts the tracker as active at now. A non-positive threshold uses [DefaultInactivityThreshold].
func NewActivity(threshold time.Duration, now func() time.Time) *Activity {
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &Activity{last: now(), threshold: threshold, now: now}
}

// Touch marks the user as active now.
func (a *Activity) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = a.now()
}

// Active reports whether the last interaction is within the threshold.
func (a *Activity) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now().Sub(a.last) < a.threshold
}

// Last returns the time of the most recent interaction.
func (a *Activity) Last() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
