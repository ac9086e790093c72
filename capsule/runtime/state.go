package runtime

import (
	"fmt"
	"time"
)

// State is a step of a capsule execution
type State string

const (
	StateInit                 State = "Init"
	StateAcquiring            State = "Acquiring"
	StateConfiguring          State = "Configuring"
	StateInstalling           State = "Installing"
	StateVerifying            State = "Verifying"
	StateCleanup              State = "Cleanup"
	StateSucceeded            State = "Succeeded"
	StateSucceededWithWarning State = "SucceededWithWarning"
	StateFailed               State = "Failed"
)

// IsTerminal reports whether the state ends an execution
func IsTerminal(s State) bool {
	switch s {
	case StateSucceeded, StateSucceededWithWarning, StateFailed:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the product ended up installed
func IsSuccessful(s State) bool {
	return s == StateSucceeded || s == StateSucceededWithWarning
}

// every non terminal state may fall through to Cleanup
func isAllowedTransition(from, to State) bool {
	if to == StateCleanup {
		return from != StateCleanup && !IsTerminal(from)
	}
	switch from {
	case StateInit:
		return to == StateAcquiring
	case StateAcquiring:
		return to == StateConfiguring
	case StateConfiguring:
		return to == StateInstalling
	case StateInstalling:
		return to == StateVerifying
	case StateCleanup:
		return IsTerminal(to)
	default:
		return false
	}
}

// TransitionRecord is one validated state change
type TransitionRecord struct {
	From State
	To   State
	At   time.Time
}

type machine struct {
	state   State
	history []TransitionRecord
	now     func() time.Time
}

func newMachine(now func() time.Time) *machine {
	return &machine{state: StateInit, now: now}
}

// transition moves to the next state. The caller supplies the expected prior
// state so that out of order calls are reported.
func (m *machine) transition(from, to State) error {
	if m.state != from {
		return fmt.Errorf("invalid transition: expected %s, got %s", from, m.state)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	m.state = to
	m.history = append(m.history, TransitionRecord{From: from, To: to, At: m.now()})
	return nil
}

// advance is transition from the current state
func (m *machine) advance(to State) error {
	return m.transition(m.state, to)
}
