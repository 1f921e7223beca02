package security

import (
	"sync"
	"time"
)

// Unlock attempt pacing. The delay grows with consecutive failures and
// resets on success; it slows online guessing without locking the user out
// permanently.
const (
	// FreeAttempts is how many consecutive failures are tolerated before
	// delays kick in.
	FreeAttempts = 3
	// MaxDelay caps the enforced wait between attempts.
	MaxDelay = 5 * time.Minute
)

// Limiter throttles unlock attempts. In-memory only: a process restart
// resets it, which is acceptable because the KDF cost already bounds
// offline guessing.
type Limiter struct {
	mu       sync.Mutex
	failures int
	lastFail time.Time
	clock    func() time.Time
}

// NewLimiter builds an unlock limiter.
func NewLimiter() *Limiter {
	return &Limiter{clock: time.Now}
}

// SetClock overrides the time source. Tests only.
func (l *Limiter) SetClock(clock func() time.Time) {
	l.clock = clock
}

// Allow reports whether an attempt may proceed now, and if not, how long to
// wait.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delay := l.currentDelay()
	if delay == 0 {
		return true, 0
	}
	elapsed := l.clock().Sub(l.lastFail)
	if elapsed >= delay {
		return true, 0
	}
	return false, delay - elapsed
}

// RecordFailure notes a failed unlock attempt.
func (l *Limiter) RecordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	l.lastFail = l.clock()
}

// Reset clears the failure count after a successful unlock.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
}

// Failures returns the consecutive failure count.
func (l *Limiter) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// currentDelay doubles per failure past the free allowance: 1s, 2s, 4s ...
// capped at MaxDelay. Caller holds l.mu.
func (l *Limiter) currentDelay() time.Duration {
	over := l.failures - FreeAttempts
	if over < 0 {
		return 0
	}
	shift := over
	if shift > 8 {
		shift = 8
	}
	delay := time.Second << shift
	if delay > MaxDelay {
		delay = MaxDelay
	}
	return delay
}
