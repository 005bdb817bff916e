// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// RestoreStep names one step of the fixed restoration sequence. The
// order of the sequence is defined by the restoration engine and never
// varies; these names key the per-step outcomes in RestorationResult.
type RestoreStep string

const (
	// StepCeaseInput: stop all automated input emission. Always first.
	StepCeaseInput RestoreStep = "cease_input"

	// StepEnableInput: reassert keyboard/mouse availability to the
	// human. Always second.
	StepEnableInput RestoreStep = "enable_input"

	// StepCursor: restore the cursor to the snapshot coordinates.
	StepCursor RestoreStep = "cursor"

	// StepFocus: restore window focus to the snapshot's window.
	StepFocus RestoreStep = "focus"

	// StepApplication: best-effort foreground restoration of the
	// snapshot's application.
	StepApplication RestoreStep = "application"

	// StepMode: transition the state machine toward OBSERVER,
	// pending verification. Always last.
	StepMode RestoreStep = "mode"
)

// StepOutcome records how one restoration step resolved. Restoration
// is reconciliation, not replay: each step observes current state
// before acting, so "already satisfied" is a common, healthy outcome
// on re-entry.
type StepOutcome string

const (
	// OutcomeApplied: the step observed a deviation and corrected it.
	OutcomeApplied StepOutcome = "applied"

	// OutcomeSatisfied: the observed state already matched the
	// target; the step did nothing.
	OutcomeSatisfied StepOutcome = "satisfied"

	// OutcomeUnverifiable: the step could not observe the quantity it
	// needed (query failure or timeout). Never reported as success.
	OutcomeUnverifiable StepOutcome = "unverifiable"

	// OutcomeYielded: a human holds control, so this best-effort step
	// deliberately left the human's visible state alone.
	OutcomeYielded StepOutcome = "yielded"
)

// FailureReason classifies why a restoration attempt failed
// verification. Empty means verified.
type FailureReason string

const (
	// FailureCursorMismatch: final cursor position outside the
	// configured tolerance of the snapshot position.
	FailureCursorMismatch FailureReason = "cursor_mismatch"

	// FailureNoFocusedWindow: no valid window holds focus after
	// restoration.
	FailureNoFocusedWindow FailureReason = "no_focused_window"

	// FailureModeMismatch: the state machine does not report
	// OBSERVER after restoration.
	FailureModeMismatch FailureReason = "mode_mismatch"

	// FailureInputAfterCease: automated input was observed after the
	// cease step. This is the one failure that can never be excused.
	FailureInputAfterCease FailureReason = "input_after_cease"

	// FailureUnverifiable: one or more mandatory steps could not
	// confirm their effect.
	FailureUnverifiable FailureReason = "unverifiable"
)

// RestorationResult is the outcome record of one restoration attempt.
// The restoration engine constructs it; the verifier fills in the
// verdict; it is immutable once written. Idempotent re-invocations for
// an already-verified session return the identical archived result.
type RestorationResult struct {
	// SessionID identifies the attempt this restoration belongs to.
	SessionID string `json:"session_id" cbor:"session_id"`

	// SnapshotID is the restoration target's snapshot.
	SnapshotID string `json:"snapshot_id" cbor:"snapshot_id"`

	// RestorationAttempted is false only when restoration was
	// physically impossible to run (total process death); the
	// watchdog produces such records for the audit trail before
	// driving recovery.
	RestorationAttempted bool `json:"restoration_attempted" cbor:"restoration_attempted"`

	// Verified is the verifier's verdict. True requires every
	// post-restoration check to pass.
	Verified bool `json:"verified" cbor:"verified"`

	// FailureReason is empty when Verified is true, and names the
	// first failed check otherwise. Serialized as null when empty to
	// match the external interchange schema.
	FailureReason FailureReason `json:"failure_reason,omitempty" cbor:"failure_reason,omitempty"`

	// Steps records the outcome of each executed restoration step.
	Steps map[RestoreStep]StepOutcome `json:"steps,omitempty" cbor:"steps,omitempty"`

	// Timestamp is when the result was written, in milliseconds
	// since the Unix epoch.
	Timestamp int64 `json:"timestamp" cbor:"timestamp"`
}

// Unverifiable reports whether any recorded step failed to confirm its
// effect. Unverifiable steps do not abort restoration — the fixed
// sequence always runs to completion — but they are folded into the
// final verification decision.
func (r *RestorationResult) Unverifiable() bool {
	for _, outcome := range r.Steps {
		if outcome == OutcomeUnverifiable {
			return true
		}
	}
	return false
}

// FailureArtifact is the durable evidence persisted by the failure
// recorder whenever a restoration outcome cannot be verified. Artifacts
// are never silently dropped: if the artifact cannot be persisted, the
// process fails closed.
type FailureArtifact struct {
	// SessionID identifies the halted attempt.
	SessionID string `json:"session_id" cbor:"session_id"`

	// Snapshot is the restoration target that was not reached.
	Snapshot Snapshot `json:"snapshot" cbor:"snapshot"`

	// Result is the unverified restoration outcome.
	Result RestorationResult `json:"result" cbor:"result"`

	// Fingerprint is the read-only host environment fingerprint,
	// bound for forensics.
	Fingerprint map[string]string `json:"fingerprint,omitempty" cbor:"fingerprint,omitempty"`

	// RecordedAt is milliseconds since the Unix epoch.
	RecordedAt int64 `json:"recorded_at" cbor:"recorded_at"`
}
