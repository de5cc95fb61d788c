package security

import (
	"sync"
	"time"

	"github.com/acolita/rotinas/internal/ports"
)

const (
	// DefaultMaxAuthFailures is the number of failures before lockout.
	DefaultMaxAuthFailures = 3
	// DefaultAuthLockout is how long a locked gateway login stays locked.
	DefaultAuthLockout = 5 * time.Minute
)

// AuthRateLimiter stops repeated logins with a wrong password before the
// gateway locks the account.
type AuthRateLimiter struct {
	mu          sync.Mutex
	failures    map[string]*authFailure
	maxFailures int
	lockout     time.Duration
	clock       ports.Clock
}

type authFailure struct {
	count    int
	lockedAt time.Time
}

// NewAuthRateLimiter applies defaults to non-positive arguments.
func NewAuthRateLimiter(maxFailures int, lockout time.Duration, clock ports.Clock) *AuthRateLimiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxAuthFailures
	}
	if lockout <= 0 {
		lockout = DefaultAuthLockout
	}
	return &AuthRateLimiter{
		failures:    make(map[string]*authFailure),
		maxFailures: maxFailures,
		lockout:     lockout,
		clock:       clock,
	}
}

// Locked reports whether user@host is locked and for how long.
func (r *AuthRateLimiter) Locked(host, user string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.failures[gatewayKey(host, user)]
	if !ok || f.lockedAt.IsZero() {
		return false, 0
	}
	elapsed := r.clock.Now().Sub(f.lockedAt)
	if elapsed >= r.lockout {
		return false, 0
	}
	return true, r.lockout - elapsed
}

// RecordFailure counts a failed login.
func (r *AuthRateLimiter) RecordFailure(host, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := gatewayKey(host, user)
	f, ok := r.failures[k]
	if !ok {
		f = &authFailure{}
		r.failures[k] = f
	}
	now := r.clock.Now()
	if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockout {
		*f = authFailure{}
	}
	f.count++
	if f.count >= r.maxFailures {
		f.lockedAt = now
	}
}

// RecordSuccess forgets previous failures.
func (r *AuthRateLimiter) RecordSuccess(host, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, gatewayKey(host, user))
}
