// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mode implements Warden's execution state machine.
//
// The controller is the single source of truth for the current
// execution mode. No other component may infer mode independently:
// the snapshot manager, gate, restoration engine, and verifier all
// consult it, and only through the operations defined here. Access to
// the transition function is serialized — at most one transition
// request is processed at a time.
package mode

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/warden/lib/clock"
)

// State is an execution authority mode.
type State string

const (
	// Observer is the initial, terminal-safe mode. No automated
	// input may be emitted.
	Observer State = "OBSERVER"

	// Executing is the mode in which the SOC may emit input under
	// the gate's supervision.
	Executing State = "EXECUTING"

	// Restoring is the transient mode during which the workspace is
	// returned to a safe state.
	Restoring State = "RESTORING"
)

// legalTransitions is the complete transition graph. Nothing outside
// this map is ever permitted, under any circumstances.
var legalTransitions = map[State]State{
	Observer:  Executing, // validated intent, gate-approved
	Executing: Restoring, // any termination signal
	Restoring: Observer,  // verified restoration only
}

// InvariantViolation reports an attempted illegal state transition.
// It is fatal: callers must not recover locally, coerce the state, or
// retry. The condition indicates a broken caller, not a transient
// fault.
type InvariantViolation struct {
	From   State
	To     State
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: illegal transition %s -> %s (reason: %s)", e.From, e.To, e.Reason)
}

// Controller tracks and enforces legal mode transitions.
//
// Controller carries a monotonic halt latch alongside the mode. Halt
// models the "halted sub-state of OBSERVER" entered after a failed
// verification: the mode reads OBSERVER (the workspace is as safe as
// it will get) but admission is blocked until an explicit external
// intent clears the latch.
type Controller struct {
	mu sync.Mutex

	state       State
	enteredAt   time.Time
	lastReason  string
	halted      bool
	haltReason  string
	clock       clock.Clock
	logger      *slog.Logger
	transitions uint64
}

// NewController returns a Controller in the Observer state.
func NewController(clk clock.Clock, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		state:     Observer,
		enteredAt: clk.Now(),
		clock:     clk,
		logger:    logger,
	}
}

// Current returns the current state.
func (c *Controller) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition requests a state transition. The reason is required — a
// transition without an explicit justification is itself a violation.
// Returns *InvariantViolation if the transition is not in the legal
// graph; the state is left untouched in that case.
func (c *Controller) Transition(to State, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reason == "" {
		return &InvariantViolation{From: c.state, To: to, Reason: "transition requires an explicit reason"}
	}

	if legalTransitions[c.state] != to {
		violation := &InvariantViolation{From: c.state, To: to, Reason: reason}
		c.logger.Error("illegal mode transition attempted",
			"from", c.state,
			"to", to,
			"reason", reason,
		)
		return violation
	}

	from := c.state
	c.state = to
	c.enteredAt = c.clock.Now()
	c.lastReason = reason
	c.transitions++

	c.logger.Info("mode transition",
		"from", from,
		"to", to,
		"reason", reason,
	)
	return nil
}

// Uptime returns how long the controller has been in the current
// state.
func (c *Controller) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Now().Sub(c.enteredAt)
}

// LastReason returns the justification for the most recent transition,
// or the empty string if none has occurred.
func (c *Controller) LastReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReason
}

// Halt sets the halt latch. Admission is blocked until ClearHalt is
// called with an explicit external intent. Calling Halt while already
// halted keeps the original reason: the latch is monotonic within a
// failure episode.
func (c *Controller) Halt(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted {
		return
	}
	c.halted = true
	c.haltReason = reason
	c.logger.Error("execution halted", "reason", reason)
}

// Halted reports the halt latch and the reason it was set.
func (c *Controller) Halted() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted, c.haltReason
}

// ClearHalt releases the halt latch. The intent must be non-empty:
// the latch is never cleared automatically, only by new, explicit
// intent from outside the core.
func (c *Controller) ClearHalt(intent string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if intent == "" {
		return fmt.Errorf("clearing a halt requires explicit external intent")
	}
	if !c.halted {
		return fmt.Errorf("not halted")
	}
	c.halted = false
	previousReason := c.haltReason
	c.haltReason = ""
	c.logger.Info("halt cleared",
		"intent", intent,
		"previous_reason", previousReason,
	)
	return nil
}
