// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"sync"
	"time"
)

// EventKind classifies an authority event.
type EventKind string

const (
	// EventHumanInput: physical human input was observed during
	// execution.
	EventHumanInput EventKind = "human_input_detected"

	// EventYieldRequested: execution must stop before emitting any
	// further automated input. Irrevocable for the session.
	EventYieldRequested EventKind = "yield_requested"

	// EventPreconditionViolated: a gate precondition stopped holding
	// mid-session (perception went stale, mode drifted).
	EventPreconditionViolated EventKind = "precondition_violated"
)

// Event is a transient authority signal. Events are not persisted
// beyond the current session; their effect is the state transition
// they trigger.
type Event struct {
	Kind   EventKind
	Source Source
	At     time.Time
	Detail string
}

// YieldCause records why a session's yield latch tripped.
type YieldCause struct {
	// Source is the authority that forced the yield. HumanPhysical
	// for detected input, HumanIntent for an explicit abort,
	// Arbitration for precondition violations.
	Source Source

	// At is when the triggering observation occurred.
	At time.Time

	// Detail is a human-readable description for the audit trail.
	Detail string
}

// Latch is the per-session yield latch. It is monotonic: once tripped
// it cannot be cleared, re-armed, or overridden for the lifetime of
// the session. The gate and the restoration engine check it before
// any write action; the execution loop checks it before every input
// emission.
//
// A new session gets a new latch. There is deliberately no Reset.
type Latch struct {
	mu    sync.Mutex
	cause *YieldCause
}

// NewLatch returns an untripped latch.
func NewLatch() *Latch { return &Latch{} }

// Trip sets the latch. The first cause wins; later calls are no-ops
// returning false. A false return tells the caller someone else
// already yielded the session — never an error.
func (l *Latch) Trip(cause YieldCause) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cause != nil {
		return false
	}
	c := cause
	l.cause = &c
	return true
}

// Tripped returns the cause and whether the latch has tripped.
func (l *Latch) Tripped() (YieldCause, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cause == nil {
		return YieldCause{}, false
	}
	return *l.cause, true
}
