// Package cooldown enforces a minimum interval between two commands to the same actuator.
package cooldown

import (
	"sync"
	"time"
)

type Tracker struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

func New(cooldown time.Duration) *Tracker {
	return &Tracker{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Cooldown returns the configured window.
func (t *Tracker) Cooldown() time.Duration { return t.cooldown }

// TryAcquire stamps the actuator and returns true when it is outside its window. Otherwise it
// leaves the entry alone and returns the time left.
func (t *Tracker) TryAcquire(actuatorID string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if left := t.remaining(actuatorID, now); left > 0 {
		return false, left
	}
	t.last[actuatorID] = now
	return true, 0
}

// Mark records a command attempt unconditionally.
func (t *Tracker) Mark(actuatorID string) {
	t.mu.Lock()
	t.last[actuatorID] = t.now()
	t.mu.Unlock()
}

// Allow reports whether a command could be sent now without stamping anything.
func (t *Tracker) Allow(actuatorID string) bool {
	return t.Remaining(actuatorID) == 0
}

func (t *Tracker) Remaining(actuatorID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining(actuatorID, t.now())
}

// Last returns the time of the last recorded attempt.
func (t *Tracker) Last(actuatorID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.last[actuatorID]
	return ts, ok
}

func (t *Tracker) remaining(actuatorID string, now time.Time) time.Duration {
	last, ok := t.last[actuatorID]
	if !ok {
		return 0
	}
	if left := t.cooldown - now.Sub(last); left > 0 {
		return left
	}
	return 0
}
