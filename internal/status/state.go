package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
)

// State is a named state of a Machine.
type State string

// Backend link states.
const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// Table lists the states reachable from each state.
type Table map[State][]State

// LinkTransitions is the lifecycle of the daemon's backend link.
var LinkTransitions = Table{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Syncing, AuthRequired, Reconnecting, Error},
	Syncing:      {Ready, Reconnecting, Degraded, Error},
	Ready:        {Reconnecting, Degraded, AuthRequired, Error},
	Reconnecting: {Connecting, Degraded, Error},
	Degraded:     {Connecting, Reconnecting, Ready, Error},
	Error:        {Booting},
}

// Machine tracks and enforces state transitions against a Table.
type Machine struct {
	mu      sync.RWMutex
	current State
	entered time.Time
	table   Table
	kind    string
	bus     *bus.Bus
}

// NewMachine creates the backend link machine starting in Booting. Changes
// are published as "link.status_changed".
func NewMachine(b *bus.Bus) *Machine {
	return New(Booting, LinkTransitions, "link.status_changed", b)
}

// New creates a machine over an arbitrary table. Every accepted transition
// is published on b (if non-nil) under kind with a StatusChange payload.
func New(initial State, table Table, kind string, b *bus.Bus) *Machine {
	return &Machine{
		current: initial,
		entered: time.Now(),
		table:   table,
		kind:    kind,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns the current state and when it was entered.
func (m *Machine) Since() (State, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.entered
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.table[m.current], to) {
		return &TransitionError{From: m.current, To: to}
	}
	change := StatusChange{From: m.current, To: to, At: time.Now()}
	m.current, m.entered = to, change.At
	m.bus.Publish(bus.Event{Kind: m.kind, Timestamp: change.At, Payload: change})
	return nil
}

// TransitionError rejects a move the table does not allow.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}
