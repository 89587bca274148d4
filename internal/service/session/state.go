package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a transcription session.
type State int

const (
	// StateIdle - Session constructed, never connected.
	StateIdle State = iota
	// StateConnecting - Opening a recognition connection.
	StateConnecting
	// StateStreaming - Connection open, audio flowing.
	StateStreaming
	// StateError - Connection failed, waiting out the backoff.
	StateError
	// StateClosed - Session stopped. Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateError:
		return "ERROR"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// Errors for invalid state transitions.
var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// State transitions:
//
//	IDLE → CONNECTING → STREAMING ─┐
//	            ↑   │        │     │ Restart()
//	            │   ↓        ↓     │
//	            └─ ERROR ←───┘     │
//	            └──────────────────┘
//
// Any non-terminal state may move to CLOSED.
var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateClosed},
	StateConnecting: {StateStreaming, StateError, StateClosed},
	StateStreaming:  {StateConnecting, StateError, StateClosed},
	StateError:      {StateConnecting, StateClosed},
}

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
type Lifecycle struct {
	mu       sync.RWMutex
	token    string
	state    State
	observer func(from, to State)
}

// NewLifecycle creates a new session lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// Token returns the token of the current or most recent connection.
func (l *Lifecycle) Token() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.token
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsClosed returns true if the session is in a terminal state.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// SetObserver registers fn to be called after every transition.
func (l *Lifecycle) SetObserver(fn func(from, to State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = fn
}

// Connect moves to CONNECTING for a new connection identified by token.
func (l *Lifecycle) Connect(token string) error {
	return l.transition(StateConnecting, token)
}

// Transition moves to the given state, keeping the current token.
func (l *Lifecycle) Transition(to State) error {
	return l.transition(to, "")
}

// Close transitions the session to CLOSED. Idempotent.
func (l *Lifecycle) Close() {
	_ = l.transition(StateClosed, "")
}

func (l *Lifecycle) transition(to State, token string) error {
	l.mu.Lock()
	from := l.state
	if from.IsTerminal() {
		l.mu.Unlock()
		if to == StateClosed {
			return nil
		}
		return ErrSessionClosed
	}
	if !allowed(from, to) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	l.state = to
	if token != "" {
		l.token = token
	}
	obs := l.observer
	l.mu.Unlock()

	if obs != nil {
		obs(from, to)
	}
	return nil
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
