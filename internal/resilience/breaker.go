// Package resilience provides failure-accounting primitives for the
// streaming client.
//
// The central type is [Breaker], a circuit breaker that trips once an
// operation has failed more than a fixed number of times in a row. The
// media pump routes every audio frame write through one, so a connection that
// keeps rejecting writes is torn down instead of spinning.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrCircuitOpen is returned by [Breaker.Execute] once the breaker has
// tripped. The wrapped operation is not called.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state: all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected with [ErrCircuitOpen] from then on.
	StateOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxConsecutiveFailures is the number of consecutive failures the
	// breaker tolerates. The failure after that trips it. Default: 10.
	MaxConsecutiveFailures int

	// OnTrip, if set, is called once with the failure that tripped the
	// breaker and the consecutive failure count.
	OnTrip func(err error, failures int)
}

// Breaker counts consecutive failures of an operation. A success resets the
// count; exceeding MaxConsecutiveFailures opens the breaker.
type Breaker struct {
	name   string
	max    int
	onTrip func(error, int)

	mu              sync.Mutex
	state           State
	consecutiveFail int
}

// NewBreaker creates a [Breaker] with the supplied configuration. Zero-value
// fields are replaced with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 10
	}
	return &Breaker{
		name:   cfg.Name,
		max:    cfg.MaxConsecutiveFailures,
		onTrip: cfg.OnTrip,
		state:  StateClosed,
	}
}

// Execute runs fn unless the breaker is open, and returns fn's error. The
// call whose failure trips the breaker still returns fn's error; use
// [Breaker.State] to detect the trip.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	if err == nil {
		b.consecutiveFail = 0
		b.mu.Unlock()
		return nil
	}
	b.consecutiveFail++
	tripped := b.state == StateClosed && b.consecutiveFail > b.max
	if tripped {
		b.state = StateOpen
	}
	failures := b.consecutiveFail
	b.mu.Unlock()

	if tripped {
		slog.Warn("circuit breaker opened",
			"name", b.name,
			"consecutive_failures", failures,
			"err", err)
		if b.onTrip != nil {
			b.onTrip(err, failures)
		}
	}
	return err
}

// State returns the current [State] of the breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current run of failures.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFail
}
