// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package verify holds the restoration verifier and the failure
// recorder. Restoration claims nothing for itself: only the verifier
// may declare a restoration successful, and it does so by observing
// the workspace afterwards, not by trusting the engine's step record.
//
// A failed verification is terminal for the session. The failure is
// recorded durably, the controller halts, and nothing retries
// automatically; a human (or an explicit external intent) resolves the
// halt.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/warden/lib/authority"
	"github.com/bureau-foundation/warden/lib/clock"
	"github.com/bureau-foundation/warden/lib/gate"
	"github.com/bureau-foundation/warden/lib/mode"
	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/snapshot"
	"github.com/bureau-foundation/warden/lib/workspace"
)

// DefaultCursorTolerance is the post-restoration cursor tolerance in
// pixels, per axis.
const DefaultCursorTolerance = 2

// DefaultSettleDelay is how long the verifier waits before reading the
// workspace, letting the display server settle after the final
// restoration write.
const DefaultSettleDelay = 50 * time.Millisecond

// Config carries the verifier's collaborators.
type Config struct {
	Mode     *mode.Controller
	Backend  workspace.Backend
	Tracker  *authority.Tracker
	Store    *snapshot.Store
	Recorder *Recorder
	Ledger   Ledger
	Clock    clock.Clock
	Logger   *slog.Logger

	// CursorTolerancePx is the per-axis cursor tolerance. Zero
	// selects DefaultCursorTolerance; a negative value means exact.
	CursorTolerancePx int

	// SettleDelay is the pre-read settle wait. Zero selects
	// DefaultSettleDelay; a negative value disables the wait.
	SettleDelay time.Duration
}

// Verifier decides whether a restoration attempt actually restored
// the workspace.
type Verifier struct {
	mode      *mode.Controller
	backend   workspace.Backend
	tracker   *authority.Tracker
	store     *snapshot.Store
	recorder  *Recorder
	ledger    Ledger
	clock     clock.Clock
	logger    *slog.Logger
	tolerance int
	settle    time.Duration
}

// New constructs a Verifier.
func New(cfg Config) *Verifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tolerance := cfg.CursorTolerancePx
	if tolerance == 0 {
		tolerance = DefaultCursorTolerance
	} else if tolerance < 0 {
		tolerance = 0
	}
	settle := cfg.SettleDelay
	if settle == 0 {
		settle = DefaultSettleDelay
	} else if settle < 0 {
		settle = 0
	}
	return &Verifier{
		mode:      cfg.Mode,
		backend:   cfg.Backend,
		tracker:   cfg.Tracker,
		store:     cfg.Store,
		recorder:  cfg.Recorder,
		ledger:    cfg.Ledger,
		clock:     cfg.Clock,
		logger:    logger,
		tolerance: tolerance,
		settle:    settle,
	}
}

// Verify inspects the workspace after restoration, fills in the
// verdict, and archives the result. On success the session marker is
// removed. On failure the artifact is recorded and the controller
// halts; the marker stays for the recovery path.
//
// A result that already carries a verdict (an archived result from a
// previous attempt) is returned unchanged.
func (v *Verifier) Verify(ctx context.Context, session *gate.Session, result *schema.RestorationResult) (*schema.RestorationResult, error) {
	if result.Verified {
		return result, nil
	}

	v.clock.Sleep(v.settle)
	reason := v.inspect(ctx, session, result)
	result.Verified = reason == ""
	result.FailureReason = reason
	result.Timestamp = v.clock.Now().UnixMilli()

	if err := v.store.WriteResult(result); err != nil {
		// The verdict cannot be made durable. Fail closed.
		v.mode.Halt(fmt.Sprintf("result archive failed for session %s: %v", session.ID, err))
		return result, fmt.Errorf("archive restoration result: %w", err)
	}

	if !result.Verified {
		if v.recorder != nil {
			if _, err := v.recorder.Record(ctx, session, result); err != nil {
				v.mode.Halt(fmt.Sprintf("failure artifact unpersisted for session %s: %v", session.ID, err))
				return result, err
			}
		}
		v.mode.Halt(fmt.Sprintf("verification failed for session %s: %s", session.ID, result.FailureReason))
		return result, nil
	}

	if err := v.store.RemoveMarker(); err != nil {
		v.mode.Halt(fmt.Sprintf("marker removal failed for session %s: %v", session.ID, err))
		return result, fmt.Errorf("remove session marker: %w", err)
	}
	if v.ledger != nil {
		if err := v.ledger.Record(ctx, session.ID, "restoration_verified", result); err != nil {
			v.logger.Error("journal append failed for verified restoration",
				"session_id", session.ID, "error", err)
		}
	}
	v.logger.Info("restoration verified",
		"session_id", session.ID,
		"snapshot_id", session.Snapshot.SnapshotID)
	return result, nil
}

// inspect runs the verification checks and returns the first failure,
// or empty when every check passes. Checks whose restoration step
// stood down for a human (OutcomeYielded) are waived: a workspace the
// human is actively using is a safe workspace.
func (v *Verifier) inspect(ctx context.Context, session *gate.Session, result *schema.RestorationResult) schema.FailureReason {
	snap := session.Snapshot
	yielded := func(step schema.RestoreStep) bool {
		return result.Steps[step] == schema.OutcomeYielded
	}

	if !yielded(schema.StepCursor) {
		cursor, err := v.backend.CursorPosition(ctx)
		if err != nil {
			v.logger.Warn("cursor unreadable during verification",
				"session_id", session.ID, "error", err)
			return schema.FailureUnverifiable
		}
		if abs(cursor.X-snap.Cursor.X) > v.tolerance || abs(cursor.Y-snap.Cursor.Y) > v.tolerance {
			v.logger.Warn("cursor outside tolerance",
				"session_id", session.ID,
				"got_x", cursor.X, "got_y", cursor.Y,
				"want_x", snap.Cursor.X, "want_y", snap.Cursor.Y,
				"tolerance_px", v.tolerance)
			return schema.FailureCursorMismatch
		}
	}

	if !yielded(schema.StepFocus) {
		window, err := v.backend.FocusedWindow(ctx)
		if err != nil {
			return schema.FailureUnverifiable
		}
		if window.ID == "" {
			return schema.FailureNoFocusedWindow
		}
	}

	if current := v.mode.Current(); current != mode.Observer {
		v.logger.Warn("mode not observer after restoration",
			"session_id", session.ID, "state", string(current))
		return schema.FailureModeMismatch
	}

	if ceasedAt, ok := session.InputCeasedAt(); ok && v.tracker != nil {
		if last, marked := v.tracker.LastAutomatedAction(); marked && last.After(ceasedAt) {
			return schema.FailureInputAfterCease
		}
	}

	if mandatoryUnverifiable(result) {
		return schema.FailureUnverifiable
	}
	return ""
}

// mandatoryUnverifiable reports whether a mandatory step failed to
// confirm its effect. The application step is best-effort and does not
// count against the verdict on its own.
func mandatoryUnverifiable(result *schema.RestorationResult) bool {
	for step, outcome := range result.Steps {
		if step == schema.StepApplication {
			continue
		}
		if outcome == schema.OutcomeUnverifiable {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
