package agent

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is one lifecycle phase of the whole agent.
type State string

const (
	StateBoot        State = "BOOT"
	StateIdle        State = "IDLE"
	StateListening   State = "LISTENING"
	StateAnalyzing   State = "ANALYZING"
	StateNavigating  State = "NAVIGATING"
	StateBetting     State = "BETTING"
	StateRecovering  State = "RECOVERING"
	StateMaintenance State = "MAINTENANCE"
	StateError       State = "ERROR"
	StateShutdown    State = "SHUTDOWN"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the adjacency list of allowed target states.
// SHUTDOWN is terminal: no outgoing edges.
var transitions = map[State][]State{
	StateBoot:        {StateIdle, StateError, StateShutdown},
	StateIdle:        {StateListening, StateMaintenance, StateError, StateShutdown},
	StateListening:   {StateAnalyzing, StateIdle, StateRecovering, StateMaintenance, StateError, StateShutdown},
	StateAnalyzing:   {StateNavigating, StateListening, StateError, StateShutdown},
	StateNavigating:  {StateBetting, StateListening, StateRecovering, StateError, StateShutdown},
	StateBetting:     {StateListening, StateRecovering, StateError, StateShutdown},
	StateRecovering:  {StateListening, StateIdle, StateError, StateShutdown},
	StateMaintenance: {StateIdle, StateListening, StateError, StateShutdown},
	StateError:       {StateRecovering, StateShutdown},
	StateShutdown:    {},
}

// HistoryEntry records one applied transition.
type HistoryEntry struct {
	From   State
	To     State
	At     time.Time
	Forced bool
}

const historyLimit = 100

// Callback observes a transition. Exit callbacks run while the machine
// lock is held; enter callbacks run after it is released so a callback
// may itself query or transition the machine without deadlocking.
type Callback func(from, to State)

// Machine is the global lifecycle state machine. One instance, one
// current state, mutated under a single lock against the transition table.
type Machine struct {
	mu      sync.Mutex
	current State
	history []HistoryEntry
	onExit  map[State][]Callback
	onEnter map[State][]Callback
	// observer sees every applied transition, forced or not.
	observer Callback
	log      zerolog.Logger
}

func NewMachine(log zerolog.Logger) *Machine {
	return &Machine{
		current: StateBoot,
		onExit:  make(map[State][]Callback),
		onEnter: make(map[State][]Callback),
		log:     log.With().Str("component", "fsm").Logger(),
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Is reports whether the machine is in the given state.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// OnExit registers a callback fired when leaving the given state.
func (m *Machine) OnExit(s State, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExit[s] = append(m.onExit[s], cb)
}

// OnEnter registers a callback fired after entering the given state.
func (m *Machine) OnEnter(s State, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter[s] = append(m.onEnter[s], cb)
}

// Observe registers a single observer for every applied transition.
func (m *Machine) Observe(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = cb
}

// Transition moves to newState if the transition table allows it.
// Rejected transitions leave the machine untouched.
func (m *Machine) Transition(newState State) error {
	m.mu.Lock()

	from := m.current
	if !allowed(from, newState) {
		m.mu.Unlock()
		m.log.Warn().Str("from", string(from)).Str("to", string(newState)).
			Msg("rejected state transition")
		return fmt.Errorf("%s -> %s: %w", from, newState, ErrInvalidTransition)
	}

	m.apply(from, newState, false)
	return nil
}

// ForceState bypasses the transition table. Emergency recovery only;
// every use is audited at warning level.
func (m *Machine) ForceState(newState State) {
	m.mu.Lock()
	from := m.current
	m.log.Warn().Str("from", string(from)).Str("to", string(newState)).
		Msg("FORCED state transition, bypassing validation")
	m.apply(from, newState, true)
}

// apply mutates state and fires callbacks. Called with the lock held;
// releases it before running enter callbacks.
func (m *Machine) apply(from, to State, forced bool) {
	for _, cb := range m.onExit[from] {
		cb(from, to)
	}

	m.current = to
	m.history = append(m.history, HistoryEntry{From: from, To: to, At: time.Now().UTC(), Forced: forced})
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}

	enter := append([]Callback(nil), m.onEnter[to]...)
	observer := m.observer
	m.mu.Unlock()

	// Enter callbacks run outside the lock to avoid reentrant deadlock.
	for _, cb := range enter {
		cb(from, to)
	}
	if observer != nil {
		observer(from, to)
	}

	m.log.Info().Str("from", string(from)).Str("to", string(to)).Bool("forced", forced).
		Msg("state transition")
}

// History returns a copy of the recorded transitions, oldest first.
func (m *Machine) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
