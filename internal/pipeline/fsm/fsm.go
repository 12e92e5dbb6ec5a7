// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm is a small generic finite state machine.
package fsm

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrInvalidTransition is returned when no edge leaves the current state on an event.
var ErrInvalidTransition = errors.New("invalid transition")

// Transition is one edge of the table.
type Transition[S ~string, E ~string] struct {
	From  S
	Event E
	To    S
}

// Observer is called after every applied transition, outside the lock.
type Observer[S ~string, E ~string] func(from, to S, event E)

// Machine applies events to a fixed transition table. States without
// outgoing edges are terminal.
type Machine[S ~string, E ~string] struct {
	initial  S
	edges    map[S]map[E]S
	observer Observer[S, E]

	mu    sync.Mutex
	state S
}

// New validates the table. Each (From, Event) pair may appear once.
func New[S ~string, E ~string](initial S, transitions []Transition[S, E], observer Observer[S, E]) (*Machine[S, E], error) {
	edges := make(map[S]map[E]S)
	for _, t := range transitions {
		out := edges[t.From]
		if out == nil {
			out = make(map[E]S)
			edges[t.From] = out
		}
		if prev, dup := out[t.Event]; dup {
			return nil, fmt.Errorf("fsm: %s on %s already leads to %s", t.From, t.Event, prev)
		}
		out[t.Event] = t.To
	}
	return &Machine[S, E]{initial: initial, edges: edges, observer: observer, state: initial}, nil
}

// State returns the current state.
func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether event has an edge from the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.edges[m.state][event]
	return ok
}

// Events lists the events accepted in the current state, sorted.
func (m *Machine[S, E]) Events() []E {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]E, 0, len(m.edges[m.state]))
	for ev := range m.edges[m.state] {
		out = append(out, ev)
	}
	slices.Sort(out)
	return out
}

// Terminal reports whether the current state has no outgoing edges.
func (m *Machine[S, E]) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edges[m.state]) == 0
}

// Reset puts the machine back into its initial state without notifying
// the observer.
func (m *Machine[S, E]) Reset() {
	m.mu.Lock()
	m.state = m.initial
	m.mu.Unlock()
}

// Fire applies event and returns the new state. On ErrInvalidTransition the
// state is unchanged.
func (m *Machine[S, E]) Fire(event E) (S, error) {
	m.mu.Lock()
	from := m.state
	to, ok := m.edges[from][event]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	m.state = to
	m.mu.Unlock()

	if m.observer != nil {
		m.observer(from, to, event)
	}
	return to, nil
}
