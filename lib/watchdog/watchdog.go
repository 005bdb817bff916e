// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Heartbeat is the daemon's periodic liveness record. The daemon
// rewrites it on an interval; the external watchdog reads it to
// distinguish a dead daemon from a busy one whose control socket is
// momentarily unresponsive.
type Heartbeat struct {
	// PID is the daemon process writing the heartbeat.
	PID int `json:"pid"`

	// Mode is the execution mode at write time (OBSERVER, EXECUTING,
	// RESTORING).
	Mode string `json:"mode"`

	// ActiveSession is the live session's ID, empty when observing.
	// A stale heartbeat with a non-empty session means restoration
	// debt: the daemon died mid-execution.
	ActiveSession string `json:"active_session,omitempty"`

	// Halted records the halt latch, so the watchdog never
	// interprets an intentionally idle daemon as a hang.
	Halted bool `json:"halted,omitempty"`

	// Timestamp is when the heartbeat was written. Check uses it for
	// staleness.
	Timestamp time.Time `json:"timestamp"`
}

// Write atomically writes a heartbeat file: temporary file in the same
// directory, fsync, rename into place, fsync the parent directory.
// Readers never see a partial write. The file is created with mode
// 0600; the parent directory must already exist.
func Write(path string, beat Heartbeat) error {
	data, err := json.MarshalIndent(beat, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary heartbeat file: %w", err)
	}

	// Write, sync, close, in that order. If any step fails, remove
	// the temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary heartbeat file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary heartbeat file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary heartbeat file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming heartbeat file into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss
	// between the rename and the OS flushing directory metadata.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}

// Read reads and parses a heartbeat file. When the file does not
// exist, the returned error wraps os.ErrNotExist (testable with
// errors.Is).
func Read(path string) (Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Heartbeat{}, err
	}

	var beat Heartbeat
	if err := json.Unmarshal(data, &beat); err != nil {
		return Heartbeat{}, fmt.Errorf("parsing heartbeat file %s: %w", path, err)
	}
	return beat, nil
}

// Check reads a heartbeat file and verifies it was written recently
// enough to count as alive. Returns the heartbeat and true when the
// file exists and its Timestamp is within maxAge of now. Returns the
// last heartbeat and false when the file exists but is older than
// maxAge, and a zero Heartbeat and false when there is no file.
//
// Any other error (permission denied, corrupt JSON) is returned as-is
// so the caller can distinguish "no heartbeat" from "heartbeat exists
// but unreadable".
func Check(path string, maxAge time.Duration) (Heartbeat, bool, error) {
	beat, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Heartbeat{}, false, nil
		}
		return Heartbeat{}, false, err
	}

	if time.Since(beat.Timestamp) > maxAge {
		return beat, false, nil
	}

	return beat, true, nil
}

// Clear removes a heartbeat file. Idempotent: returns nil when the
// file does not exist.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing heartbeat file: %w", err)
	}
	return nil
}
