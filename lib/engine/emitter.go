// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/warden/lib/authority"
	"github.com/bureau-foundation/warden/lib/gate"
	"github.com/bureau-foundation/warden/lib/journal"
	"github.com/bureau-foundation/warden/lib/policy"
)

// Action is one proposed workspace action from the SOC.
type Action struct {
	// Kind is the action verb: "click", "type", "scroll", "key".
	Kind string `json:"kind" cbor:"kind"`

	// Target is the UI element the action addresses, as reported by
	// perception. The policy oracle decides on it.
	Target policy.Target `json:"target" cbor:"target"`

	// Detail carries action parameters (text to type, scroll delta)
	// opaque to the authority core.
	Detail string `json:"detail,omitempty" cbor:"detail,omitempty"`
}

// InputSink is the injection layer that physically emits synthetic
// input. It is external to the core; the emitter is the only caller.
type InputSink interface {
	Inject(ctx context.Context, action Action) error
}

// Emitter is the SOC's only path to the workspace. Every emission is
// checked against the yield latch and the policy oracle, journaled as
// an intent/effect pair, and marked on the attribution tracker.
type Emitter interface {
	EmitInput(ctx context.Context, action Action) error
}

// SOC is the sealed operation core collaborator: the component that
// decides what to do. It holds no authority of its own — every input
// it wants emitted goes through the Emitter it is handed.
type SOC interface {
	// Execute drives the task described by intent. Returning nil
	// reports normal completion. Execute must return promptly once
	// ctx is cancelled or EmitInput returns ErrYielded.
	Execute(ctx context.Context, intent string, emit Emitter) error
}

// ErrYielded is returned by EmitInput once the session's yield latch
// has tripped. No further input will be emitted this session.
var ErrYielded = errors.New("session yielded, input emission stopped")

// ErrPolicyDenied is returned when the policy oracle denies an action.
var ErrPolicyDenied = errors.New("action denied by policy")

// ErrConfirmationRequired is returned when the policy oracle requires
// human confirmation for an action. The core does not collect
// confirmations; the SOC must drop or re-plan the action.
var ErrConfirmationRequired = errors.New("action requires human confirmation")

// emitter is the per-session Emitter implementation.
type emitter struct {
	engine  *Engine
	session *gate.Session
}

func (em *emitter) EmitInput(ctx context.Context, action Action) error {
	e := em.engine
	if _, tripped := em.session.Latch().Tripped(); tripped {
		return ErrYielded
	}
	if !e.observer.Fresh() {
		// Emitting into a workspace we cannot see violates the
		// admission precondition mid-session.
		em.session.Latch().Trip(authority.YieldCause{
			Source: authority.Arbitration,
			At:     e.clock.Now(),
			Detail: "perception stale at emission",
		})
		return ErrYielded
	}
	switch decision := e.policy.Decide(action.Target); decision {
	case policy.Allow:
	case policy.RequireHumanConfirmation:
		return fmt.Errorf("%w: %s on %q", ErrConfirmationRequired, action.Kind, action.Target.Label)
	default:
		return fmt.Errorf("%w: %s on app %q", ErrPolicyDenied, action.Kind, action.Target.App)
	}

	if err := e.record(ctx, em.session.ID, journal.KindIntent, action); err != nil {
		return err
	}

	// Re-check after the journal write: the latch may have tripped
	// while the intent row was being persisted, and input after a
	// yield is the one thing this system exists to prevent.
	if _, tripped := em.session.Latch().Tripped(); tripped {
		if err := e.record(ctx, em.session.ID, journal.KindEffect,
			map[string]string{"outcome": "suppressed_by_yield"}); err != nil {
			return err
		}
		return ErrYielded
	}

	e.tracker.MarkAutomatedAction()
	injectErr := e.sink.Inject(ctx, action)

	effect := map[string]string{"outcome": "emitted"}
	if injectErr != nil {
		effect["outcome"] = "error"
		effect["error"] = injectErr.Error()
	}
	if err := e.record(ctx, em.session.ID, journal.KindEffect, effect); err != nil {
		return err
	}
	if injectErr != nil {
		return fmt.Errorf("inject %s: %w", action.Kind, injectErr)
	}
	return nil
}
