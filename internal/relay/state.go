// Package relay bridges one client WebSocket to one upstream
// transcription stream, accumulating finalized transcript chunks in the
// session store.
package relay

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a relay connection.
type State int

const (
	// StateConnecting - upstream dial in progress, audio is dropped.
	StateConnecting State = iota
	// StateReady - upstream accepted the session config, no audio yet.
	StateReady
	// StateRelaying - audio has flowed, events are being forwarded.
	StateRelaying
	// StateClosed - the connection ended. Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateRelaying:
		return "RELAYING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors for invalid state transitions.
var (
	ErrNotReady     = errors.New("upstream not ready")
	ErrClosed       = errors.New("connection is closed")
	ErrAlreadyReady = errors.New("connection already ready")
)

// Lifecycle manages the state machine for a single relay connection.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CONNECTING → READY → RELAYING → CLOSED
//	     │         │         │
//	     └─────────┴─────────┴──→ Close() from any state
//
// Rules:
//   - CONNECTING: audio must be dropped, not forwarded or buffered
//   - READY: audio may be forwarded; first forward moves to RELAYING
//   - RELAYING: audio and control messages flow freely
//   - CLOSED: terminal; every operation fails with ErrClosed
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a new connection lifecycle in CONNECTING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateConnecting}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsClosed returns true if the connection has ended.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateClosed
}

// Ready transitions CONNECTING → READY, meaning the upstream accepted the
// session configuration.
func (l *Lifecycle) Ready() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConnecting:
		l.state = StateReady
		return nil
	case StateReady, StateRelaying:
		return ErrAlreadyReady
	case StateClosed:
		return ErrClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Forward validates that audio may flow upstream. The first successful
// call transitions READY → RELAYING.
func (l *Lifecycle) Forward() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConnecting:
		return ErrNotReady
	case StateReady:
		l.state = StateRelaying
		return nil
	case StateRelaying:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Close transitions the connection to CLOSED. Idempotent; returns true on
// the first close.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateClosed {
		return false
	}
	l.state = StateClosed
	return true
}
