package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/sku-agent/prowl/failure"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// CircuitOpenError is returned when a call is refused because the breaker
// for the key is open. It is fatal for the site: callers stop processing
// remaining items instead of retrying through it.
type CircuitOpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s (retry after %s)", e.Key, e.RetryAfter.Round(time.Second))
}

// BreakerConfig tunes the per-key circuit breaker.
type BreakerConfig struct {
	FailureThreshold      int           // consecutive failures to trip closed -> open
	SuccessThreshold      int           // half-open successes to close
	Cooldown              time.Duration // open duration before probing
	RateLimitCooldown     time.Duration // longer cooldown after sustained rate limiting
	RateLimitRunThreshold int           // consecutive rate_limited failures that trigger the longer cooldown
	HalfOpenMaxCalls      int           // concurrent probe cap while half-open
}

// DefaultBreakerConfig matches the production thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Cooldown:              60 * time.Second,
		RateLimitCooldown:     300 * time.Second,
		RateLimitRunThreshold: 3,
		HalfOpenMaxCalls:      3,
	}
}

type breakerEntry struct {
	state            string
	failures         int
	successes        int
	rateLimitRun     int
	halfOpenCalls    int
	failureThreshold int
	cooldown         time.Duration
	openedAt         time.Time
}

// BreakerStatus is a point-in-time snapshot for one key.
type BreakerStatus struct {
	State        string        `json:"state"`
	Failures     int           `json:"failures"`
	Successes    int           `json:"successes"`
	RateLimitRun int           `json:"rate_limit_run"`
	RetryAfter   time.Duration `json:"retry_after,omitempty"`
}

// Breaker is a keyed circuit breaker. Keys are sites (or site:action pairs).
// Each key holds a closed/open/half-open state machine; sustained rate
// limiting lowers the key's failure threshold and lengthens its cooldown.
type Breaker struct {
	mu         sync.Mutex
	cfg        BreakerConfig
	entries    map[string]*breakerEntry
	now        func() time.Time
	transition func(key, from, to string)
}

// NewBreaker builds a breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, entries: make(map[string]*breakerEntry), now: time.Now}
}

// OnTransition installs a hook invoked (under no lock guarantees about
// ordering across keys) whenever a key changes state.
func (b *Breaker) OnTransition(fn func(key, from, to string)) {
	b.mu.Lock()
	b.transition = fn
	b.mu.Unlock()
}

func (b *Breaker) entry(key string) *breakerEntry {
	e, ok := b.entries[key]
	if !ok {
		e = &breakerEntry{
			state:            StateClosed,
			failureThreshold: b.cfg.FailureThreshold,
			cooldown:         b.cfg.Cooldown,
		}
		b.entries[key] = e
	}
	return e
}

func (b *Breaker) setState(key string, e *breakerEntry, to string) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	if b.transition != nil {
		b.transition(key, from, to)
	}
}

// Allow reports whether a call for key may proceed. While open it returns a
// CircuitOpenError until the cooldown elapses, at which point the key moves
// to half-open and admits up to HalfOpenMaxCalls probes.
func (b *Breaker) Allow(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(key)
	switch e.state {
	case StateClosed:
		return nil
	case StateOpen:
		remaining := e.cooldown - b.now().Sub(e.openedAt)
		if remaining > 0 {
			return &CircuitOpenError{Key: key, RetryAfter: remaining}
		}
		b.setState(key, e, StateHalfOpen)
		e.successes = 0
		e.halfOpenCalls = 1
		return nil
	case StateHalfOpen:
		if e.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return &CircuitOpenError{Key: key, RetryAfter: 0}
		}
		e.halfOpenCalls++
		return nil
	}
	return nil
}

// RecordSuccess notes a successful call for key. In the closed state it
// decays the failure count; in half-open it counts toward closing.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(key)
	e.rateLimitRun = 0
	switch e.state {
	case StateClosed:
		if e.failures > 0 {
			e.failures--
		}
	case StateHalfOpen:
		e.successes++
		if e.halfOpenCalls > 0 {
			e.halfOpenCalls--
		}
		if e.successes >= b.cfg.SuccessThreshold {
			b.setState(key, e, StateClosed)
			e.failures = 0
			e.successes = 0
			e.failureThreshold = b.cfg.FailureThreshold
			e.cooldown = b.cfg.Cooldown
		}
	}
}

// RecordFailure notes a failed call for key. Any half-open failure reopens
// immediately. A run of rate-limited failures lowers the trip threshold and
// lengthens the cooldown before the threshold check.
func (b *Breaker) RecordFailure(key string, kind failure.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(key)
	if kind == failure.KindRateLimited {
		e.rateLimitRun++
		if e.rateLimitRun >= b.cfg.RateLimitRunThreshold {
			e.cooldown = b.cfg.RateLimitCooldown
			if t := b.cfg.FailureThreshold - 2; t >= 2 {
				e.failureThreshold = t
			} else {
				e.failureThreshold = 2
			}
		}
	} else {
		e.rateLimitRun = 0
	}

	switch e.state {
	case StateHalfOpen:
		b.setState(key, e, StateOpen)
		e.openedAt = b.now()
		e.successes = 0
		e.halfOpenCalls = 0
	case StateClosed:
		e.failures++
		if e.failures >= e.failureThreshold {
			b.setState(key, e, StateOpen)
			e.openedAt = b.now()
		}
	}
}

// Status returns a snapshot for key.
func (b *Breaker) Status(key string) BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(key)
	st := BreakerStatus{
		State:        e.state,
		Failures:     e.failures,
		Successes:    e.successes,
		RateLimitRun: e.rateLimitRun,
	}
	if e.state == StateOpen {
		if remaining := e.cooldown - b.now().Sub(e.openedAt); remaining > 0 {
			st.RetryAfter = remaining
		}
	}
	return st
}

// StatusAll returns snapshots for every tracked key.
func (b *Breaker) StatusAll() map[string]BreakerStatus {
	b.mu.Lock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	out := make(map[string]BreakerStatus, len(keys))
	for _, k := range keys {
		out[k] = b.Status(k)
	}
	return out
}

// Reset returns key to a fresh closed state.
func (b *Breaker) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(key)
	b.setState(key, e, StateClosed)
	*e = breakerEntry{
		state:            StateClosed,
		failureThreshold: b.cfg.FailureThreshold,
		cooldown:         b.cfg.Cooldown,
	}
}
