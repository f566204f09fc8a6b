package execution

import (
	"fmt"
	"sync"

	"yqhp/loadgen/pkg/types"
)

// StateMachine tracks the run lifecycle:
// created → ramping_up → steady → ramping_down → finalized, with aborted
// reachable from every non-terminal state and leading straight to finalized.
type StateMachine struct {
	mu       sync.RWMutex
	state    types.RunState
	onChange func(from, to types.RunState)
}

// NewStateMachine returns a machine in the created state.
func NewStateMachine(onChange func(from, to types.RunState)) *StateMachine {
	return &StateMachine{state: types.RunStateCreated, onChange: onChange}
}

// Current returns the current state.
func (m *StateMachine) Current() types.RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves to the given state if the change is legal.
func (m *StateMachine) Transition(to types.RunState) error {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !types.CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
