package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CredentialRateLimiter applies a per-credential token bucket. It backs
// the secondary mitigation for authenticators that never increment their
// signature counter: those credentials forgo counter-based replay
// detection, so their authentication rate is capped instead. Credentials
// with an advancing counter never hit this path.
type CredentialRateLimiter struct {
	rpm int

	mu       sync.Mutex
	limiters map[string]*credentialLimiter

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

type credentialLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewCredentialRateLimiter creates a limiter allowing rpm authentications
// per minute per credential. rpm <= 0 disables limiting.
func NewCredentialRateLimiter(rpm int) *CredentialRateLimiter {
	return &CredentialRateLimiter{
		rpm:             rpm,
		limiters:        make(map[string]*credentialLimiter),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// Allow reports whether another authentication for this credential is
// permitted right now.
func (l *CredentialRateLimiter) Allow(credentialID string) bool {
	if l.rpm <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.limiters[credentialID]
	if !exists {
		burst := l.rpm / 2
		if burst < 1 {
			burst = 1
		}
		entry = &credentialLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), burst),
		}
		l.limiters[credentialID] = entry
	}
	entry.lastSeen = time.Now()

	if time.Since(l.lastCleanup) > l.cleanupInterval {
		l.cleanup()
	}

	return entry.limiter.Allow()
}

// cleanup removes limiters that haven't been used in a while
func (l *CredentialRateLimiter) cleanup() {
	cutoff := time.Now().Add(-30 * time.Minute)
	for id, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
	l.lastCleanup = time.Now()
}
