// Package transition implements guarded state machines shared by orders,
// payments, payment intents and shipments.
//
// Apply never mutates anything. It reports whether moving from the current
// state to the target is a no-op, a valid step, or a rejected transition, and
// callers persist the outcome themselves.
package transition

import (
	"fmt"

	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
)

// Outcome describes the result of a guarded transition.
type Outcome[S ~string] struct {
	From S
	To   S
	Noop bool
}

// Changed reports whether the caller needs to persist a new state.
func (o Outcome[S]) Changed() bool {
	return !o.Noop
}

// Machine holds the allowed edges of a single state machine.
type Machine[S ~string] struct {
	name     string
	edges    map[S]map[S]struct{}
	messages map[S]string
}

// New returns an empty machine; edges are registered with Allow.
func New[S ~string](name string) *Machine[S] {
	return &Machine[S]{
		name:     name,
		edges:    map[S]map[S]struct{}{},
		messages: map[S]string{},
	}
}

// Allow registers from -> to for every target.
func (m *Machine[S]) Allow(from S, targets ...S) *Machine[S] {
	set, ok := m.edges[from]
	if !ok {
		set = map[S]struct{}{}
		m.edges[from] = set
	}
	for _, to := range targets {
		set[to] = struct{}{}
	}
	return m
}

// RejectWith overrides the error message used when target cannot be reached.
func (m *Machine[S]) RejectWith(target S, message string) *Machine[S] {
	m.messages[target] = message
	return m
}

// Can reports whether from -> to is a registered edge.
func (m *Machine[S]) Can(from, to S) bool {
	_, ok := m.edges[from][to]
	return ok
}

// Apply evaluates current -> target. Equal states are an idempotent no-op.
func (m *Machine[S]) Apply(current, target S) (Outcome[S], error) {
	if current == target {
		return Outcome[S]{From: current, To: target, Noop: true}, nil
	}
	if m.Can(current, target) {
		return Outcome[S]{From: current, To: target}, nil
	}

	msg, ok := m.messages[target]
	if !ok {
		msg = fmt.Sprintf("%s cannot move from %s to %s", m.name, current, target)
	}
	return Outcome[S]{From: current, To: current}, pkgerrors.New(pkgerrors.CodeInvalidTransition, msg).
		WithDetails(map[string]any{
			"machine": m.name,
			"from":    string(current),
			"to":      string(target),
		})
}
