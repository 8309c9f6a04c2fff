package client

import (
	"fmt"
	"sync"
	"time"
)

// AuthState is the credential state of a client.
type AuthState int

const (
	// UNAUTHENTICATED indicates no credentials are held.
	UNAUTHENTICATED AuthState = iota
	// AUTHENTICATED indicates a credential pair is held.
	AUTHENTICATED
	// REFRESHING indicates the access token is being exchanged for a new pair.
	REFRESHING
)

// String returns the string representation of the auth state.
func (s AuthState) String() string {
	switch s {
	case UNAUTHENTICATED:
		return "UNAUTHENTICATED"
	case AUTHENTICATED:
		return "AUTHENTICATED"
	case REFRESHING:
		return "REFRESHING"
	default:
		return "UNKNOWN"
	}
}

// StateTransition represents a change in auth state with enriched context.
//
// Standard Metadata Keys:
//   - reason: string - "login" | "logout" | "refresh" | "refresh_failed" | "preset"
//   - subject: string - access token subject after the transition
type StateTransition struct {
	// From is the previous state.
	From AuthState

	// To is the new current state.
	To AuthState

	// Timestamp is when the transition occurred.
	Timestamp time.Time

	// Error is the error that caused the transition (if any).
	Error error

	// Duration is how long the previous state was held.
	Duration time.Duration

	// Metadata contains additional context about the transition.
	Metadata map[string]interface{}
}

// StateChangeHandler is called when the auth state changes.
type StateChangeHandler func(transition StateTransition)

// StateManager tracks auth state transitions and notifies handlers.
type StateManager struct {
	current        AuthState
	lastTransition time.Time
	handlers       []StateChangeHandler
	mu             sync.RWMutex
}

// NewStateManager creates a new state manager in UNAUTHENTICATED state.
func NewStateManager() *StateManager {
	return &StateManager{
		current:        UNAUTHENTICATED,
		lastTransition: time.Now(),
		handlers:       make([]StateChangeHandler, 0),
	}
}

// TransitionTo moves to newState and notifies handlers.
// Returns error if the transition is illegal.
//
// Legal transitions:
//   - UNAUTHENTICATED → AUTHENTICATED
//   - AUTHENTICATED → REFRESHING
//   - AUTHENTICATED → UNAUTHENTICATED
//   - REFRESHING → AUTHENTICATED
//   - REFRESHING → UNAUTHENTICATED
func (sm *StateManager) TransitionTo(newState AuthState, err error, metadata map[string]interface{}) error {
	transition, terr := sm.set(newState, err, metadata)
	if terr != nil {
		return terr
	}
	sm.notify(transition)
	return nil
}

// set records the transition without notifying, for callers that hold locks
// handlers might need.
func (sm *StateManager) set(newState AuthState, err error, metadata map[string]interface{}) (StateTransition, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !isLegalTransition(sm.current, newState) {
		return StateTransition{}, fmt.Errorf("illegal state transition: %s → %s", sm.current, newState)
	}

	now := time.Now()
	transition := StateTransition{
		From:      sm.current,
		To:        newState,
		Timestamp: now,
		Error:     err,
		Duration:  now.Sub(sm.lastTransition),
		Metadata:  metadata,
	}

	sm.current = newState
	sm.lastTransition = now
	return transition, nil
}

func (sm *StateManager) notify(transitions ...StateTransition) {
	sm.mu.RLock()
	handlers := make([]StateChangeHandler, len(sm.handlers))
	copy(handlers, sm.handlers)
	sm.mu.RUnlock()

	for _, t := range transitions {
		for _, handler := range handlers {
			handler(t)
		}
	}
}

func isLegalTransition(from, to AuthState) bool {
	switch from {
	case UNAUTHENTICATED:
		return to == AUTHENTICATED
	case AUTHENTICATED:
		return to == REFRESHING || to == UNAUTHENTICATED
	case REFRESHING:
		return to == AUTHENTICATED || to == UNAUTHENTICATED
	default:
		return false
	}
}

// OnStateChange registers a handler to be called on state transitions.
func (sm *StateManager) OnStateChange(handler StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handler)
}

// GetState returns the current auth state (thread-safe).
func (sm *StateManager) GetState() AuthState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// GetLastTransition returns the most recent state transition.
func (sm *StateManager) GetLastTransition() StateTransition {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return StateTransition{
		From:      sm.current,
		To:        sm.current,
		Timestamp: sm.lastTransition,
		Duration:  time.Since(sm.lastTransition),
	}
}
