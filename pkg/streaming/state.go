package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnexpectedState is returned by the strict transition methods of
// [SessionState] when the current state does not satisfy the transition's
// precondition.
var ErrUnexpectedState = errors.New("streaming: unexpected session state")

// State is a position in the session lifecycle.
type State int

const (
	// StateInitial is the only start state. A session can be started from here.
	StateInitial State = iota

	// StateOpening means the WebSocket connection is being established.
	StateOpening

	// StateOpen means the connection is established and media is flowing.
	StateOpen

	// StateClosing means the end-of-stream event was sent (or a stop was
	// requested) and the session is waiting for the final responses.
	StateClosing

	// StateDone is terminal: the session completed.
	StateDone

	// StateFailed is terminal: the session failed before the end-of-stream
	// event could be sent.
	StateFailed
)

// String returns the lower-case state name used in logs.
func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateDone:
		return "done"
	case StateFailed:
		return "fail"
	default:
		return "?"
	}
}

// IsFinal reports whether s is Closing, Done or Failed. A session in a final
// state accepts no new media and cannot be started again.
func (s State) IsFinal() bool {
	return s == StateClosing || s == StateDone || s == StateFailed
}

// IsTerminal reports whether s is Done or Failed. No transition leaves a
// terminal state.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// SessionState is a synchronised holder for the [State] of one session.
//
// Every successful transition wakes all goroutines blocked in
// [SessionState.WaitFor]. Once a terminal state is reached, every further
// transition request is refused. The zero value is not usable; create one
// with [NewSessionState].
type SessionState struct {
	mu      sync.Mutex
	state   State
	changed chan struct{} // closed and replaced on every transition

	onChange func(from, to State)
}

// NewSessionState returns a SessionState in [StateInitial].
func NewSessionState() *SessionState {
	return &SessionState{
		state:   StateInitial,
		changed: make(chan struct{}),
	}
}

// Get returns the current state.
func (s *SessionState) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsFinal reports whether the current state is final.
func (s *SessionState) IsFinal() bool {
	return s.Get().IsFinal()
}

// Change transitions to state unconditionally, unless the current state is
// terminal. It reports whether the transition happened.
func (s *SessionState) Change(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return false
	}
	s.set(state)
	return true
}

// ChangeIf transitions to state only if the current state is expected. A
// mismatch is a silent no-op; the return value reports whether the
// transition happened.
func (s *SessionState) ChangeIf(state, expected State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != expected || s.state.IsTerminal() {
		return false
	}
	s.set(state)
	return true
}

// ChangeIfStrict is like [SessionState.ChangeIf] but returns an error
// wrapping [ErrUnexpectedState] when the current state is not expected.
func (s *SessionState) ChangeIfStrict(state, expected State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != expected || s.state.IsTerminal() {
		return fmt.Errorf("%w: change to %s requires %s, current state is %s",
			ErrUnexpectedState, state, expected, s.state)
	}
	s.set(state)
	return nil
}

// ChangeUnless transitions to state unless the current state is forbidden.
// A match is a silent no-op; the return value reports whether the
// transition happened.
func (s *SessionState) ChangeUnless(state, forbidden State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == forbidden || s.state.IsTerminal() && s.state != state {
		return false
	}
	s.set(state)
	return true
}

// ChangeUnlessStrict is like [SessionState.ChangeUnless] but returns an
// error wrapping [ErrUnexpectedState] when the current state is forbidden.
func (s *SessionState) ChangeUnlessStrict(state, forbidden State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == forbidden || s.state.IsTerminal() && s.state != state {
		return fmt.Errorf("%w: change to %s forbidden from %s",
			ErrUnexpectedState, state, s.state)
	}
	s.set(state)
	return nil
}

// changeUnlessFinal transitions to state if the current state is not final
// and returns the state observed before the call.
func (s *SessionState) changeUnlessFinal(state State) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	if prev.IsFinal() {
		return prev, false
	}
	s.set(state)
	return prev, true
}

// WaitFor blocks until the session reaches target or timeout elapses, and
// reports whether target was reached. Wake-ups caused by transitions to other
// states re-check against the remaining budget.
func (s *SessionState) WaitFor(target State, timeout time.Duration) bool {
	_, ok := s.waitUntil(context.Background(), timeout, func(st State) bool {
		return st == target
	})
	return ok
}

// waitUntil blocks until cond holds for the current state, timeout elapses
// or ctx is done. It returns the last observed state and whether cond held.
func (s *SessionState) waitUntil(ctx context.Context, timeout time.Duration, cond func(State) bool) (State, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		st := s.state
		changed := s.changed
		s.mu.Unlock()
		if cond(st) {
			return st, true
		}

		select {
		case <-changed:
		case <-timer.C:
			st = s.Get()
			return st, cond(st)
		case <-ctx.Done():
			st = s.Get()
			return st, cond(st)
		}
	}
}

// set must be called with mu held.
func (s *SessionState) set(state State) {
	from := s.state
	if from == state {
		return
	}
	s.state = state
	close(s.changed)
	s.changed = make(chan struct{})
	if s.onChange != nil {
		s.onChange(from, state)
	}
}
