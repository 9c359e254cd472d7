package scraper

import (
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between requests that share a
// key (the target domain). Each key owns its own lock, held across the
// wait and the timestamp update, so concurrent callers for the same key
// serialize and each observes at least one full interval, while callers
// for different keys never block each other.
type RateLimiter struct {
	mu   sync.Mutex
	keys map[string]*keyLimiter

	now   func() time.Time
	sleep func(time.Duration)
}

type keyLimiter struct {
	mu   sync.Mutex
	last time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		keys:  make(map[string]*keyLimiter),
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// Wait blocks until at least minInterval has elapsed since the last call
// with the same key, then records the call.
func (r *RateLimiter) Wait(key string, minInterval time.Duration) {
	r.mu.Lock()
	kl, ok := r.keys[key]
	if !ok {
		kl = &keyLimiter{}
		r.keys[key] = kl
	}
	r.mu.Unlock()

	kl.mu.Lock()
	defer kl.mu.Unlock()

	if !kl.last.IsZero() {
		if elapsed := r.now().Sub(kl.last); elapsed < minInterval {
			r.sleep(minInterval - elapsed)
		}
	}
	kl.last = r.now()
}
