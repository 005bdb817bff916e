// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "fmt"

// ExecutionModeObserver is the only execution mode in which a snapshot
// may be captured. The value is stored verbatim in the snapshot so that
// a snapshot produced under any other mode is rejected at validation
// time, not silently restored from.
const ExecutionModeObserver = "OBSERVER"

// CursorPosition is an absolute cursor position in screen coordinates.
type CursorPosition struct {
	X int `json:"x" cbor:"x"`
	Y int `json:"y" cbor:"y"`
}

// Snapshot is the immutable record of workspace state captured
// immediately before an execution attempt. It is the restoration
// target: the restoration engine reads it, never writes it.
//
// Exactly one snapshot exists per execution attempt. The snapshot
// manager creates it; every other component holds it read-only.
type Snapshot struct {
	// SnapshotID uniquely identifies this capture. Derived from a
	// keyed BLAKE3 hash of the canonical encoding plus a per-process
	// capture counter, so identical workspace states at different
	// times still produce distinct IDs.
	SnapshotID string `json:"snapshot_id" cbor:"snapshot_id"`

	// Timestamp is the capture instant in milliseconds since the
	// Unix epoch.
	Timestamp int64 `json:"timestamp" cbor:"timestamp"`

	// Cursor is the absolute cursor position at capture time.
	Cursor CursorPosition `json:"cursor" cbor:"cursor"`

	// FocusedWindow identifies the window holding input focus at
	// capture time. The identifier format is backend-defined (X11
	// window ID, Wayland surface handle, …) and treated as opaque.
	FocusedWindow string `json:"focused_window" cbor:"focused_window"`

	// WindowTitle is the focused window's title at capture time.
	// Informational only — titles change freely and are never used
	// for verification.
	WindowTitle string `json:"window_title,omitempty" cbor:"window_title,omitempty"`

	// ActiveApp is the best-effort process identity of the foreground
	// application (e.g. "firefox").
	ActiveApp string `json:"active_app" cbor:"active_app"`

	// ProcessID is the foreground application's PID when the backend
	// could determine it, zero otherwise.
	ProcessID int `json:"process_id,omitempty" cbor:"process_id,omitempty"`

	// ExecutionMode is the mode the state machine reported at capture
	// time. Must equal ExecutionModeObserver.
	ExecutionMode string `json:"execution_mode" cbor:"execution_mode"`

	// Metadata carries perception evidence bound at capture time:
	// observer frame timestamp, screen-text hash. Opaque to the
	// restoration engine.
	Metadata map[string]any `json:"metadata,omitempty" cbor:"metadata,omitempty"`
}

// Validate enforces the snapshot invariants. A violation is a
// programming error in the capture path, not a recoverable condition.
func (s *Snapshot) Validate() error {
	if s.SnapshotID == "" {
		return fmt.Errorf("snapshot: snapshot_id must be present")
	}
	if s.Timestamp <= 0 {
		return fmt.Errorf("snapshot %s: timestamp must be a positive epoch instant", s.SnapshotID)
	}
	if s.Cursor.X < 0 || s.Cursor.Y < 0 {
		return fmt.Errorf("snapshot %s: cursor coordinates must be non-negative, got (%d,%d)",
			s.SnapshotID, s.Cursor.X, s.Cursor.Y)
	}
	if s.FocusedWindow == "" {
		return fmt.Errorf("snapshot %s: focused_window must be present", s.SnapshotID)
	}
	if s.ActiveApp == "" {
		return fmt.Errorf("snapshot %s: active_app must be present", s.SnapshotID)
	}
	if s.ProcessID < 0 {
		return fmt.Errorf("snapshot %s: process_id must be positive when set, got %d",
			s.SnapshotID, s.ProcessID)
	}
	if s.ExecutionMode != ExecutionModeObserver {
		return fmt.Errorf("snapshot %s: captured in mode %q, snapshots must be captured in %s mode",
			s.SnapshotID, s.ExecutionMode, ExecutionModeObserver)
	}
	return nil
}
