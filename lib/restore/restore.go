// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package restore implements the restoration engine: the fixed
// six-step sequence that returns the workspace to its pre-execution
// state after every termination, whatever the termination mode.
//
// Restoration is reconciliation, not replay. Every step observes
// current state before acting and no-ops when the target already
// holds, so the sequence is safe to re-enter after a partial run. The
// order is fixed and never varies:
//
//	1. cease automated input
//	2. re-enable user input
//	3. cursor to snapshot coordinates
//	4. refocus the snapshot window
//	5. foreground the snapshot application (best-effort)
//	6. transition toward the observer state
//
// When the yield latch is tripped, steps 3 through 5 stand down
// rather than fight the human for the cursor; steps 1, 2, and 6
// remain mandatory.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/warden/lib/clock"
	"github.com/bureau-foundation/warden/lib/gate"
	"github.com/bureau-foundation/warden/lib/mode"
	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/snapshot"
	"github.com/bureau-foundation/warden/lib/workspace"
)

// DefaultStepTimeout bounds each OS interaction during restoration. A
// step that cannot complete within the bound records Unverifiable
// rather than blocking the sequence.
const DefaultStepTimeout = 2 * time.Second

// Config carries the engine's collaborators.
type Config struct {
	Mode    *mode.Controller
	Backend workspace.Backend
	Store   *snapshot.Store
	Clock   clock.Clock
	Logger  *slog.Logger

	// StepTimeout bounds each step's OS interaction. Zero selects
	// DefaultStepTimeout.
	StepTimeout time.Duration
}

// Engine drives restoration. Restore is single-flight per session:
// concurrent termination signals coalesce onto one attempt, and every
// caller receives the same result.
type Engine struct {
	mode        *mode.Controller
	backend     workspace.Backend
	store       *snapshot.Store
	clock       clock.Clock
	logger      *slog.Logger
	stepTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	done   chan struct{}
	result *schema.RestorationResult
}

// New constructs an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return &Engine{
		mode:        cfg.Mode,
		backend:     cfg.Backend,
		store:       cfg.Store,
		clock:       cfg.Clock,
		logger:      logger,
		stepTimeout: timeout,
		inflight:    make(map[string]*flight),
	}
}

// Restore runs the restoration sequence for the session and returns
// its result. If another goroutine is already restoring the same
// session, Restore waits for that attempt and returns its result. If
// a result for the session is already archived, the archived result
// is returned unchanged.
func (e *Engine) Restore(ctx context.Context, session *gate.Session) *schema.RestorationResult {
	e.mu.Lock()
	if f, ok := e.inflight[session.ID]; ok {
		e.mu.Unlock()
		<-f.done
		return f.result
	}
	if archived, err := e.store.ReadResult(session.ID); err == nil {
		e.mu.Unlock()
		return archived
	}
	f := &flight{done: make(chan struct{})}
	e.inflight[session.ID] = f
	e.mu.Unlock()

	f.result = e.run(ctx, session)
	close(f.done)

	e.mu.Lock()
	delete(e.inflight, session.ID)
	e.mu.Unlock()
	return f.result
}

func (e *Engine) run(ctx context.Context, session *gate.Session) *schema.RestorationResult {
	snap := session.Snapshot
	result := &schema.RestorationResult{
		SessionID:            session.ID,
		SnapshotID:           snap.SnapshotID,
		RestorationAttempted: true,
		Steps:                make(map[schema.RestoreStep]schema.StepOutcome, 6),
	}
	termination, _ := session.Termination()
	if e.mode.Current() == mode.Executing {
		reason := "termination: " + string(termination)
		if termination == "" {
			reason = "termination signal"
		}
		if err := e.mode.Transition(mode.Restoring, reason); err != nil {
			// A concurrent transition already moved the machine.
			// Reconciliation continues against whatever state holds.
			e.logger.Warn("mode transition contention entering restoration",
				"session_id", session.ID, "error", err)
		}
	}
	e.logger.Info("restoration started",
		"session_id", session.ID,
		"snapshot_id", snap.SnapshotID,
		"termination_mode", string(termination))

	// The sequence runs to completion regardless of individual step
	// outcomes. Only the surrounding context being dead cuts it
	// short, and even then every remaining step records Unverifiable
	// instead of being skipped silently.
	result.Steps[schema.StepCeaseInput] = e.stepCeaseInput(ctx, session)
	result.Steps[schema.StepEnableInput] = e.stepEnableInput(ctx)
	result.Steps[schema.StepCursor] = e.stepCursor(ctx, session, snap)
	result.Steps[schema.StepFocus] = e.stepFocus(ctx, session, snap)
	result.Steps[schema.StepApplication] = e.stepApplication(ctx, session, snap)
	result.Steps[schema.StepMode] = e.stepMode()

	result.Timestamp = e.clock.Now().UnixMilli()
	for step, outcome := range result.Steps {
		if outcome == schema.OutcomeUnverifiable {
			e.logger.Warn("restoration step unverifiable",
				"session_id", session.ID, "step", string(step))
		}
	}
	return result
}

// stepCeaseInput stops synthetic input emission. Always first, always
// mandatory, runs even when the yield latch is tripped: a human
// holding the workspace is one more reason the machine must be quiet.
func (e *Engine) stepCeaseInput(ctx context.Context, session *gate.Session) schema.StepOutcome {
	err := e.bounded(ctx, func(ctx context.Context) error {
		return e.backend.CeaseAutomatedInput(ctx)
	})
	if err != nil {
		return schema.OutcomeUnverifiable
	}
	session.MarkInputCeased(e.clock.Now())
	return schema.OutcomeApplied
}

func (e *Engine) stepEnableInput(ctx context.Context) schema.StepOutcome {
	err := e.bounded(ctx, func(ctx context.Context) error {
		return e.backend.EnableUserInput(ctx)
	})
	if err != nil {
		return schema.OutcomeUnverifiable
	}
	return schema.OutcomeApplied
}

func (e *Engine) stepCursor(ctx context.Context, session *gate.Session, snap *schema.Snapshot) schema.StepOutcome {
	var current schema.CursorPosition
	err := e.bounded(ctx, func(ctx context.Context) error {
		var err error
		current, err = e.backend.CursorPosition(ctx)
		return err
	})
	if err != nil {
		return schema.OutcomeUnverifiable
	}
	if current == snap.Cursor {
		return schema.OutcomeSatisfied
	}
	if _, tripped := session.Latch().Tripped(); tripped {
		return schema.OutcomeYielded
	}
	err = e.bounded(ctx, func(ctx context.Context) error {
		return e.backend.SetCursorPosition(ctx, snap.Cursor)
	})
	if err != nil {
		return schema.OutcomeUnverifiable
	}
	return schema.OutcomeApplied
}

func (e *Engine) stepFocus(ctx context.Context, session *gate.Session, snap *schema.Snapshot) schema.StepOutcome {
	var current workspace.Window
	err := e.bounded(ctx, func(ctx context.Context) error {
		var err error
		current, err = e.backend.FocusedWindow(ctx)
		return err
	})
	if err != nil {
		return schema.OutcomeUnverifiable
	}
	if current.ID == snap.FocusedWindow {
		return schema.OutcomeSatisfied
	}
	if _, tripped := session.Latch().Tripped(); tripped {
		return schema.OutcomeYielded
	}
	err = e.bounded(ctx, func(ctx context.Context) error {
		return e.backend.FocusWindow(ctx, snap.FocusedWindow)
	})
	if err == nil {
		return schema.OutcomeApplied
	}

	// The snapshot window may be gone. Fall back to foregrounding the
	// snapshot application so focus lands somewhere sane.
	e.logger.Warn("focus restoration failed, activating application instead",
		"session_id", session.ID,
		"window", snap.FocusedWindow,
		"app", snap.ActiveApp,
		"error", err)
	err = e.bounded(ctx, func(ctx context.Context) error {
		return e.backend.ActivateApplication(ctx, snap.ActiveApp, snap.ProcessID)
	})
	if err != nil {
		return schema.OutcomeUnverifiable
	}
	return schema.OutcomeApplied
}

func (e *Engine) stepApplication(ctx context.Context, session *gate.Session, snap *schema.Snapshot) schema.StepOutcome {
	var current workspace.Application
	err := e.bounded(ctx, func(ctx context.Context) error {
		var err error
		current, err = e.backend.ActiveApplication(ctx)
		return err
	})
	if err != nil {
		return schema.OutcomeUnverifiable
	}
	if current.Name == snap.ActiveApp {
		return schema.OutcomeSatisfied
	}
	if _, tripped := session.Latch().Tripped(); tripped {
		return schema.OutcomeYielded
	}
	err = e.bounded(ctx, func(ctx context.Context) error {
		return e.backend.ActivateApplication(ctx, snap.ActiveApp, snap.ProcessID)
	})
	if err != nil {
		return schema.OutcomeUnverifiable
	}
	return schema.OutcomeApplied
}

// stepMode moves the state machine toward the observer state. The
// verifier holds the final verdict; a failed verification afterwards
// halts the controller in place.
func (e *Engine) stepMode() schema.StepOutcome {
	switch current := e.mode.Current(); current {
	case mode.Observer:
		return schema.OutcomeSatisfied
	case mode.Restoring:
		if err := e.mode.Transition(mode.Observer, "restoration sequence complete, pending verification"); err != nil {
			return schema.OutcomeUnverifiable
		}
		return schema.OutcomeApplied
	default:
		return schema.OutcomeUnverifiable
	}
}

// bounded runs one OS interaction under the step timeout. A timeout
// surfaces as an error so the step records Unverifiable; it is never
// treated as success.
func (e *Engine) bounded(ctx context.Context, op func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()
	err := op(stepCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("step timed out after %s: %w", e.stepTimeout, err)
	}
	return err
}
