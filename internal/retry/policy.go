// Package retry implements the backoff policy and circuit breaker layered
// above internal/httpclient. No example repo in the reference pack imports
// an ecosystem retry or circuit-breaker library, so this package is built
// on the standard library, grounded on the teacher's
// workers/downloader/internal/infrastructure/RetryMiddleware and on
// original_source's etl/utils/retry.py RetryConfig/CircuitBreaker.
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Policy configures exponential backoff with jitter: delay(attempt) =
// baseDelay * backoffFactor^(attempt-1), capped at MaxDelay (§4.4).
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64 // default 2.0
	MaxDelay      time.Duration
	JitterMin     float64 // default 0.5
	JitterMax     float64 // default 1.5
}

// DefaultPolicy mirrors original_source's RetryConfig defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
		JitterMin:     0.5,
		JitterMax:     1.5,
	}
}

// Delay returns the backoff delay before attempt (1-indexed), applying
// jitter and honoring a server-supplied Retry-After override when
// retryAfter is nonzero.
func (p Policy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	base := float64(p.BaseDelay) * math.Pow(factor, float64(attempt-1))
	if maxDelay := float64(p.MaxDelay); maxDelay > 0 && base > maxDelay {
		base = maxDelay
	}
	jMin, jMax := p.JitterMin, p.JitterMax
	if jMin == 0 && jMax == 0 {
		jMin, jMax = 0.5, 1.5
	}
	jitter := jMin + rand.Float64()*(jMax-jMin)
	return time.Duration(base * jitter)
}

// BreakerState is one of the three circuit breaker states.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig controls how many consecutive transient failures open the
// circuit and how long it stays open before probing, mirroring
// retry.circuit_breaker_threshold/circuit_breaker_timeout from the global
// settings document.
type BreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
}

// DefaultBreakerConfig mirrors original_source's CircuitBreaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenDuration: 60 * time.Second}
}

type breakerEntry struct {
	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
}

// Breaker is a per-(host,handlerKind) circuit breaker registry. A single
// Breaker instance is shared process-wide; callers key lookups by the pair
// that identifies the remote endpoint class.
type Breaker struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	entries map[string]*breakerEntry
}

// NewBreaker constructs a Breaker using cfg's thresholds, falling back to
// DefaultBreakerConfig's values for any field left at its zero value.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = DefaultBreakerConfig().OpenDuration
	}
	return &Breaker{cfg: cfg, entries: make(map[string]*breakerEntry)}
}

func (b *Breaker) entry(key string) *breakerEntry {
	e, ok := b.entries[key]
	if !ok {
		e = &breakerEntry{state: Closed}
		b.entries[key] = e
	}
	return e
}

// Allow reports whether a call against key may proceed. An Open breaker
// past its OpenDuration transitions to HalfOpen and allows exactly one
// probe through.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(key)
	switch e.state {
	case Closed:
		return true
	case HalfOpen:
		return false // a probe is already in flight
	default: // Open
		if time.Since(e.openedAt) >= b.cfg.OpenDuration {
			e.state = HalfOpen
			return true
		}
		return false
	}
}

// RecordSuccess closes the breaker for key and resets its failure streak.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(key)
	e.state = Closed
	e.consecutiveFail = 0
}

// RecordFailure registers a transient failure for key, opening the breaker
// once the consecutive-failure threshold is reached. A failure observed
// while HalfOpen reopens the breaker immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(key)
	if e.state == HalfOpen {
		e.state = Open
		e.openedAt = time.Now()
		e.consecutiveFail = b.cfg.FailureThreshold
		return
	}
	e.consecutiveFail++
	if e.consecutiveFail >= b.cfg.FailureThreshold {
		e.state = Open
		e.openedAt = time.Now()
	}
}

// State reports the current breaker state for key, for diagnostics.
func (b *Breaker) State(key string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entry(key).state
}

// ErrBreakerOpen signals that a call was short-circuited by an open
// breaker rather than attempted at all.
type ErrBreakerOpen struct {
	Key string
}

func (e *ErrBreakerOpen) Error() string { return "circuit breaker open for " + e.Key }

// Do runs fn under policy p and breaker b keyed by key, retrying on
// errors for which retryable returns true. Cancellation is checked before
// every attempt and during the backoff sleep; a cancelled context aborts
// immediately without counting as a breaker failure.
func Do(ctx context.Context, p Policy, b *Breaker, key string, retryable func(error) bool, fn func(ctx context.Context) (time.Duration, error)) error {
	if b != nil && !b.Allow(key) {
		return &ErrBreakerOpen{Key: key}
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		retryAfter, err := fn(ctx)
		if err == nil {
			if b != nil {
				b.RecordSuccess(key)
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
		if b != nil {
			b.RecordFailure(key)
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt, retryAfter)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
