package upstream

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the backend breaker rejects a request without
// sending it.
var ErrCircuitOpen = errors.New("backend circuit breaker is open")

// BreakerState is the state of a Breaker.
type BreakerState string

const (
	// StateClosed lets every request through.
	StateClosed BreakerState = "closed"
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen BreakerState = "open"
	// StateHalfOpen lets a single probe through to test the backend.
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig defines when the backend is considered down.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive transport failures that opens the
	// breaker. Zero disables it.
	MaxFailures int `yaml:"max_failures"`
	// Cooldown is how long the breaker stays open before a probe is allowed.
	Cooldown time.Duration `yaml:"cooldown"`
}

// Breaker trips after consecutive transport failures so a dead backend fails fast
// instead of holding every inbound request for the full timeout. A nil *Breaker
// allows everything.
type Breaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	state     BreakerState
	failures  int
	openUntil time.Time
	probing   bool
	now       func() time.Time
}

// NewBreaker returns nil when cfg.MaxFailures is zero.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		return nil
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// Allow reports whether a request may be sent. In half-open state only one probe is
// in flight at a time.
func (b *Breaker) Allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.openUntil) {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Record reports the outcome of an allowed request. Only transport failures count;
// any HTTP answer, including 5xx, proves the backend is reachable.
func (b *Breaker) Record(failed bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if !failed {
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
		b.state = StateOpen
		b.openUntil = b.now().Add(b.cfg.Cooldown)
	}
}

// Release frees the probe slot of an allowed request whose outcome says nothing about
// the backend, such as a cancelled caller. State and failure count are unchanged.
func (b *Breaker) Release() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
