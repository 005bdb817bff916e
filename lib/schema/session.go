// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "fmt"

// TerminationMode classifies how an execution attempt ended. The set is
// closed: every termination routes into restoration under exactly one
// of these values.
type TerminationMode string

const (
	// TerminationNormalCompletion: the SOC finished its task.
	TerminationNormalCompletion TerminationMode = "NORMAL_COMPLETION"

	// TerminationExecutionError: the SOC reported an error.
	TerminationExecutionError TerminationMode = "EXECUTION_ERROR"

	// TerminationVisionFailure: perception became unavailable or
	// stale while executing.
	TerminationVisionFailure TerminationMode = "VISION_FAILURE"

	// TerminationAuthorityYield: the arbitrator detected human input
	// and requested a yield.
	TerminationAuthorityYield TerminationMode = "AUTHORITY_YIELD"

	// TerminationHumanAbort: a human explicitly aborted the attempt.
	TerminationHumanAbort TerminationMode = "HUMAN_ABORT"

	// TerminationProcessCrash: the execution task died without
	// signaling (panic, crash-equivalent interruption).
	TerminationProcessCrash TerminationMode = "PROCESS_CRASH"

	// TerminationForced: the hosting process was killed outright.
	// Restoration runs on the next viable opportunity, driven by the
	// external watchdog.
	TerminationForced TerminationMode = "FORCED_TERMINATION"
)

// Valid reports whether m is a member of the closed enumeration.
func (m TerminationMode) Valid() bool {
	switch m {
	case TerminationNormalCompletion, TerminationExecutionError,
		TerminationVisionFailure, TerminationAuthorityYield,
		TerminationHumanAbort, TerminationProcessCrash, TerminationForced:
		return true
	}
	return false
}

// ParseTerminationMode parses the wire representation of a termination
// mode, rejecting anything outside the closed set.
func ParseTerminationMode(s string) (TerminationMode, error) {
	mode := TerminationMode(s)
	if !mode.Valid() {
		return "", fmt.Errorf("unknown termination mode: %q", s)
	}
	return mode, nil
}

// Session is the archived record of one execution attempt. The live
// session handle (with its yield latch and termination coalescing)
// lives in lib/gate; this is the durable shape written to the journal
// and returned to external callers.
type Session struct {
	// SessionID uniquely identifies the attempt.
	SessionID string `json:"session_id" cbor:"session_id"`

	// SnapshotID links to the pre-execution snapshot. One snapshot
	// per session, one session per snapshot.
	SnapshotID string `json:"snapshot_id" cbor:"snapshot_id"`

	// Intent is the validated external intent that admitted the
	// session through the gate.
	Intent string `json:"intent" cbor:"intent"`

	// State is the state machine mode at the time this record was
	// written.
	State string `json:"state" cbor:"state"`

	// TerminationMode is set exactly once, when the attempt
	// terminates. Empty while the session is executing.
	TerminationMode TerminationMode `json:"termination_mode,omitempty" cbor:"termination_mode,omitempty"`

	// StartedAt and TerminatedAt are milliseconds since the Unix
	// epoch. TerminatedAt is zero while executing.
	StartedAt    int64 `json:"started_at" cbor:"started_at"`
	TerminatedAt int64 `json:"terminated_at,omitempty" cbor:"terminated_at,omitempty"`
}

// SessionMarker is the crash-recovery breadcrumb persisted by the gate
// at admission and removed only after verified restoration. If the
// process dies mid-session, the marker survives on disk; the daemon's
// startup recovery (or the external watchdog, relaunching the daemon)
// reads it back and restores from the embedded snapshot before any new
// admission.
type SessionMarker struct {
	// SessionID is the attempt this marker belongs to.
	SessionID string `json:"session_id" cbor:"session_id"`

	// Snapshot is the full restoration target, embedded so recovery
	// needs no second lookup to act.
	Snapshot Snapshot `json:"snapshot" cbor:"snapshot"`

	// Intent is the admitting intent, for the audit trail.
	Intent string `json:"intent" cbor:"intent"`

	// PID is the process that admitted the session. Recovery treats
	// a marker from a still-living process as an invariant violation
	// rather than restoring underneath it.
	PID int `json:"pid" cbor:"pid"`

	// AdmittedAt is milliseconds since the Unix epoch.
	AdmittedAt int64 `json:"admitted_at" cbor:"admitted_at"`
}
