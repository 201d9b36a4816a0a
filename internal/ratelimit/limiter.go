// Package ratelimit implements the host daemon's two-layer connection
// defense: a per-IP token-bucket quota on new connections, and a separate
// auth-failure counter that permanently bans an IP after repeated bad
// tokens. Grounded on internal/relay/bandwidth.go's RateLimiter, generalized
// with the ban-set/auth-failure bookkeeping the original Rust ratelimit.rs
// keeps alongside it.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthFailThreshold is the number of bad-token attempts from one IP before
// it is permanently banned, matching the reference implementation.
const AuthFailThreshold = 3

// ConnQuota is the sustained rate of new connections allowed per IP.
const ConnQuota = 5 // per minute

// staleAfter is how long an IP's bucket and failure counter may sit idle
// before the background sweep reclaims them.
const staleAfter = 10 * time.Minute

// ErrBanned is returned by Check for an IP that has been permanently banned.
var ErrBanned = errors.New("ratelimit: ip is banned")

// ErrRateLimited is returned by Check when an IP has exceeded its
// connection quota.
var ErrRateLimited = errors.New("ratelimit: ip exceeded connection quota")

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks per-IP connection quotas, auth-failure counts, and bans.
// One mutex guards all three maps, matching the granularity the teacher's
// own RateLimiter uses across its single limiters map.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	failures map[string]int
	banned   map[string]struct{}
	stop     chan struct{}
}

// New constructs a Limiter and starts its background staleness sweep.
func New() *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		failures: make(map[string]int),
		banned:   make(map[string]struct{}),
		stop:     make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Close stops the background sweep goroutine.
func (l *Limiter) Close() {
	close(l.stop)
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := time.Now().Add(-staleAfter)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
			// A stale bucket implies no recent activity from this IP;
			// the auth-failure count is no longer load-bearing either,
			// resolving the reference implementation's open cleanup TODO.
			delete(l.failures, ip)
		}
	}
}

func (l *Limiter) getBucket(ip string) *bucket {
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/ConnQuota), ConnQuota)}
		l.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b
}

// Check enforces both layers: a banned IP is rejected outright; otherwise
// the IP's connection bucket is consulted.
func (l *Limiter) Check(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, banned := l.banned[ip]; banned {
		return ErrBanned
	}

	b := l.getBucket(ip)
	if !b.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// IsBanned reports whether ip has been permanently banned.
func (l *Limiter) IsBanned(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, banned := l.banned[ip]
	return banned
}

// BanIP permanently bans ip.
func (l *Limiter) BanIP(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.banned[ip] = struct{}{}
}

// RecordAuthFailure increments ip's failure count, banning it once
// AuthFailThreshold is reached. Returns ErrBanned if this call crossed the
// threshold, nil otherwise.
func (l *Limiter) RecordAuthFailure(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[ip]++
	if l.failures[ip] >= AuthFailThreshold {
		l.banned[ip] = struct{}{}
		return ErrBanned
	}
	return nil
}

// ResetAuthFailures clears ip's failure count, e.g. after a successful auth.
func (l *Limiter) ResetAuthFailures(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, ip)
}

// AuthFailureCount returns ip's current failure count.
func (l *Limiter) AuthFailureCount(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures[ip]
}

// BannedCount returns the number of currently banned IPs.
func (l *Limiter) BannedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.banned)
}
