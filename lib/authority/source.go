// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package authority implements Warden's authority arbitration: the
// precedence order over input sources, the irrevocable per-session
// yield latch, input attribution, and the arbitrator that polls for
// human input concurrently with execution.
package authority

// Source identifies where an input or decision originated. Sources
// form a total order; conflicts between sources are resolved purely by
// precedence, never by negotiation.
//
// The numeric values encode the order (higher wins) and are internal —
// they are never persisted or put on the wire.
type Source int

const (
	// ReasoningOutput is anything produced by a model or planner.
	// Lowest authority: reasoning proposes, it never disposes.
	ReasoningOutput Source = iota

	// ExecutionSystem is the SOC emitting input under gate
	// supervision.
	ExecutionSystem

	// Arbitration is this core's own machinery (gate, arbitrator,
	// restoration engine).
	Arbitration

	// HumanIntent is explicit human instruction delivered through a
	// control channel (an abort request, a typed intent).
	HumanIntent

	// HumanPhysical is direct physical input: a real key press or
	// mouse movement. Highest authority, overrides everything.
	HumanPhysical
)

// String returns the stable name of the source.
func (s Source) String() string {
	switch s {
	case ReasoningOutput:
		return "reasoning_output"
	case ExecutionSystem:
		return "execution_system"
	case Arbitration:
		return "arbitration"
	case HumanIntent:
		return "human_intent"
	case HumanPhysical:
		return "human_physical"
	default:
		return "unknown"
	}
}

// Overrides reports whether s takes precedence over other.
func (s Source) Overrides(other Source) bool { return s > other }

// Resolve returns the source that wins a conflict between a and b.
// Pure function over the total order; a conflict between equals
// resolves to that source.
func Resolve(a, b Source) Source {
	if b.Overrides(a) {
		return b
	}
	return a
}

// Human reports whether the source is a human authority of either
// kind. Human sources are never suppressed, queued, or overridden.
func (s Source) Human() bool {
	return s == HumanPhysical || s == HumanIntent
}
