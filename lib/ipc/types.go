// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "github.com/bureau-foundation/warden/lib/schema"

// Actions understood by the daemon's control socket.
const (
	// ActionStatus asks for the daemon's current state: mode, halt
	// latch, active session, perception freshness.
	ActionStatus = "status"

	// ActionIntent submits an external intent for execution. The
	// daemon runs the full session (gate, execution, restoration,
	// verification) and responds when it completes or is denied.
	ActionIntent = "intent"

	// ActionResult fetches a restoration result by session ID, or the
	// latest result when SessionID is empty.
	ActionResult = "result"

	// ActionClearHalt clears the halt latch. Requires a non-empty
	// Intent field naming why; an anonymous clear is refused.
	ActionClearHalt = "clear-halt"

	// ActionAbort trips the active session's yield latch with human
	// intent, terminating it as HUMAN_ABORT.
	ActionAbort = "abort"

	// ActionFingerprint returns the host environment fingerprint.
	ActionFingerprint = "fingerprint"
)

// Request is one CBOR-encoded request frame on the control socket.
type Request struct {
	// Action selects the operation.
	Action string `cbor:"action"`

	// SessionID scopes "result" to a specific session. Empty means
	// the latest.
	SessionID string `cbor:"session_id,omitempty"`

	// Intent carries the external intent text for "intent" and the
	// mandatory justification for "clear-halt" and "abort".
	Intent string `cbor:"intent,omitempty"`
}

// Status describes the daemon's current state, returned by "status".
// The watchdog reads ActiveSession to distinguish a healthy daemon
// from one that died mid-session.
type Status struct {
	// State is the current execution mode (OBSERVER, EXECUTING,
	// RESTORING).
	State string `cbor:"state"`

	// Halted and HaltReason mirror the mode controller's halt latch.
	Halted     bool   `cbor:"halted"`
	HaltReason string `cbor:"halt_reason,omitempty"`

	// ActiveSession is the live session's ID, empty when observing.
	ActiveSession string `cbor:"active_session,omitempty"`

	// PerceptionFresh is the observer's current freshness report.
	PerceptionFresh bool `cbor:"perception_fresh"`

	// PID is the daemon's process ID.
	PID int `cbor:"pid"`

	// UptimeMS is how long the current mode has held, in
	// milliseconds.
	UptimeMS int64 `cbor:"uptime_ms"`
}

// Response is one CBOR-encoded response frame.
type Response struct {
	// OK reports whether the request succeeded. When false, Error
	// carries the reason and the payload fields are empty.
	OK bool `cbor:"ok"`

	// Error is the failure description when OK is false.
	Error string `cbor:"error,omitempty"`

	// Status is set for "status" responses.
	Status *Status `cbor:"status,omitempty"`

	// Result is set for "result" and successful "intent" responses.
	Result *schema.RestorationResult `cbor:"result,omitempty"`

	// SessionID identifies the session an "intent" request ran as.
	SessionID string `cbor:"session_id,omitempty"`

	// Fingerprint is set for "fingerprint" responses.
	Fingerprint map[string]string `cbor:"fingerprint,omitempty"`
}
