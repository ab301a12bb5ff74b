// Package circuit implements a small per-backend circuit breaker. The
// replicated blob pipeline (internal/pipeline) wraps one of these around
// every primary and replica upload attempt (reads are not wrapped), keyed by backend name,
// so a backend that is consistently failing stops being hammered with
// retries within a single flush and instead fails fast until it has had a
// chance to recover.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of a breaker's three states.
type State int

const (
	// StateClosed passes every call through to the backend.
	StateClosed State = iota
	// StateOpen rejects every call without reaching the backend.
	StateOpen
	// StateHalfOpen allows a limited number of calls through to probe
	// whether the backend has recovered.
	StateHalfOpen
)

// String renders a State for logging.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a Breaker's trip/recovery behavior.
type Config struct {
	// MaxRequests is how many calls are allowed through while half-open.
	MaxRequests uint32
	// Interval is how long the closed-state failure/success counters
	// accumulate before being reset.
	Interval time.Duration
	// Timeout is how long a breaker stays open before probing half-open.
	Timeout time.Duration
	// ReadyToTrip decides, from the closed-state counts, whether the
	// breaker should open. Defaults to 20+ calls with a >=50% failure rate.
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful classifies a call's error as success/failure for the
	// breaker's bookkeeping. Defaults to "nil error is success".
	IsSuccessful func(err error) bool
}

// Counts tracks one breaker's call outcomes since its last reset.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
	LastActivity         time.Time
}

// Breaker guards calls to a single blob backend (the primary, or one
// replica), tripping open once ReadyToTrip considers it unhealthy.
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewBreaker builds a Breaker for the backend named name.
func NewBreaker(name string, config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.Requests >= 20 &&
		float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func defaultIsSuccessful(err error) bool {
	return err == nil
}

// ExecuteWithContext runs fn if the breaker's state currently allows a call
// through to the backend, recording the outcome afterward.
func (b *Breaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, _ := b.currentState(now)

	if state == StateOpen {
		return ErrOpenState
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests {
		return ErrTooManyRequests
	}

	b.counts.onRequest()
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, _ := b.currentState(now)

	if b.config.IsSuccessful(err) {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	b.counts.onSuccess()
	if state == StateHalfOpen {
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	b.counts.onFailure()
	switch state {
	case StateClosed:
		if b.config.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, time.Time) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts.clear()
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.expiry
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	b.state = state
	b.counts.clear()

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}
}

// State reports the breaker's current state after applying any transition
// that is due: open becomes half-open once Timeout has passed, and the
// closed-state counts are reset once Interval has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

// Counts returns a copy of the breaker's current call counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Name returns the backend name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}

var (
	// ErrOpenState is returned when a backend's breaker is open.
	ErrOpenState = errors.New("backend circuit breaker is open")
	// ErrTooManyRequests is returned when a half-open breaker's probe
	// quota for its backend is exhausted.
	ErrTooManyRequests = errors.New("too many requests while backend breaker is half-open")
)

// Manager hands out one Breaker per backend name, creating it on first use.
// The replicated blob pipeline keys breakers by "primary", "replica-0",
// "replica-1", ... so a failing replica doesn't affect the primary's or
// another replica's breaker state.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewManager builds a Manager; every breaker it creates shares config.
func NewManager(config Config) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), config: config}
}

// GetBreaker returns the named backend's breaker, creating it on first call.
func (m *Manager) GetBreaker(name string) *Breaker {
	m.mu.RLock()
	if b, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return b
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, m.config)
	m.breakers[name] = b
	return b
}
