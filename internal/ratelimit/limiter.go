// Package ratelimit implements the in-memory sliding-window limiters: a
// general per-client limiter for the whole request pipeline, and a
// per-(client, path) brute-force guard layered onto credential endpoints.
// Both are single-node by construction; the spec explicitly rules out a
// shared backend such as Redis, so state never leaves the process.
package ratelimit

import (
	"sync"
	"time"
)

// Verdict is the outcome of an attempt against a limiter.
type Verdict int

const (
	// Ok means the attempt is allowed and has been counted.
	Ok Verdict = iota
	// Exceeded means the client is over its window budget.
	Exceeded
)

const (
	defaultMaxAttempts = 10
	defaultWindow      = time.Second
)

type window struct {
	count     int
	expiresAt time.Time
}

// Limiter is a sliding-window counter keyed by an arbitrary string.
type Limiter struct {
	mu          sync.Mutex
	windows     map[string]*window
	maxAttempts int
	windowSize  time.Duration
}

// New returns a Limiter allowing maxAttempts per windowSize, per key. A
// zero maxAttempts or windowSize falls back to the spec defaults (10
// attempts per second).
func New(maxAttempts int, windowSize time.Duration) *Limiter {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if windowSize <= 0 {
		windowSize = defaultWindow
	}
	return &Limiter{
		windows:     make(map[string]*window),
		maxAttempts: maxAttempts,
		windowSize:  windowSize,
	}
}

// TryAttempt counts one attempt for key, resetting the window if it has
// expired, and reports whether the attempt is within budget.
func (l *Limiter) TryAttempt(key string) Verdict {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.expiresAt) {
		w = &window{count: 0, expiresAt: now.Add(l.windowSize)}
		l.windows[key] = w
	}

	w.count++
	if w.count > l.maxAttempts {
		return Exceeded
	}
	return Ok
}

// Release clears any window state for key, used on a successful
// credentialed action to forgive prior failed attempts.
func (l *Limiter) Release(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// BruteForce wraps a Limiter keyed by client and path together, so a
// client hammering one credential endpoint doesn't exhaust its budget on
// an unrelated route.
type BruteForce struct {
	limiter *Limiter
}

// NewBruteForce returns a BruteForce guard allowing maxAttempts per
// windowSize, per (client, path) pair.
func NewBruteForce(maxAttempts int, windowSize time.Duration) *BruteForce {
	return &BruteForce{limiter: New(maxAttempts, windowSize)}
}

// TryAttempt counts one attempt for the (client, path) pair.
func (b *BruteForce) TryAttempt(client, path string) Verdict {
	return b.limiter.TryAttempt(client + "\x00" + path)
}

// Release forgives prior attempts for the (client, path) pair, called
// after a successful signin so a legitimate user isn't penalised for
// earlier typos.
func (b *BruteForce) Release(client, path string) {
	b.limiter.Release(client + "\x00" + path)
}
