// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	beat := Heartbeat{
		PID:           4242,
		Mode:          "EXECUTING",
		ActiveSession: "sess-1f2e3d4c5b6a7988",
		Timestamp:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}

	if err := Write(path, beat); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.PID != beat.PID {
		t.Errorf("PID = %d, want %d", got.PID, beat.PID)
	}
	if got.Mode != beat.Mode {
		t.Errorf("Mode = %q, want %q", got.Mode, beat.Mode)
	}
	if got.ActiveSession != beat.ActiveSession {
		t.Errorf("ActiveSession = %q, want %q", got.ActiveSession, beat.ActiveSession)
	}
	if !got.Timestamp.Equal(beat.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, beat.Timestamp)
	}
}

func TestWriteOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	first := Heartbeat{
		PID:           100,
		Mode:          "EXECUTING",
		ActiveSession: "sess-aaaaaaaaaaaaaaaa",
		Timestamp:     time.Now(),
	}
	if err := Write(path, first); err != nil {
		t.Fatalf("Write first: %v", err)
	}

	second := Heartbeat{
		PID:       100,
		Mode:      "OBSERVER",
		Timestamp: time.Now().Add(time.Second),
	}
	if err := Write(path, second); err != nil {
		t.Fatalf("Write second: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Mode != "OBSERVER" {
		t.Errorf("Mode = %q, want OBSERVER (second write should overwrite)", got.Mode)
	}
	if got.ActiveSession != "" {
		t.Errorf("ActiveSession = %q, want cleared", got.ActiveSession)
	}
}

func TestWriteLeavesNoTemporaryFile(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "heartbeat.json")
	if err := Write(path, Heartbeat{PID: 1, Mode: "OBSERVER", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary file left behind: stat err = %v", err)
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read missing file error = %v, want os.ErrNotExist", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Read(path); err == nil {
		t.Error("Read of corrupt file succeeded")
	}
}

func TestCheckFreshness(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	fresh := Heartbeat{PID: 7, Mode: "EXECUTING", ActiveSession: "sess-bbbbbbbbbbbbbbbb", Timestamp: time.Now()}
	if err := Write(path, fresh); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, alive, err := Check(path, time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !alive {
		t.Error("fresh heartbeat reported not alive")
	}
	if got.ActiveSession != fresh.ActiveSession {
		t.Errorf("ActiveSession = %q, want %q", got.ActiveSession, fresh.ActiveSession)
	}

	stale := fresh
	stale.Timestamp = time.Now().Add(-time.Hour)
	if err := Write(path, stale); err != nil {
		t.Fatalf("Write stale: %v", err)
	}
	got, alive, err = Check(path, time.Minute)
	if err != nil {
		t.Fatalf("Check stale: %v", err)
	}
	if alive {
		t.Error("hour-old heartbeat reported alive")
	}
	if got.ActiveSession != stale.ActiveSession {
		t.Errorf("stale Check dropped the session: %q", got.ActiveSession)
	}
}

func TestCheckMissing(t *testing.T) {
	_, alive, err := Check(filepath.Join(t.TempDir(), "absent.json"), time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if alive {
		t.Error("missing heartbeat reported alive")
	}
}

func TestCheckCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := Check(path, time.Minute); err == nil {
		t.Error("Check of corrupt file succeeded, want error")
	}
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	if err := Write(path, Heartbeat{PID: 1, Mode: "OBSERVER", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Errorf("second Clear: %v", err)
	}
	if _, err := Read(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("heartbeat still readable after Clear: %v", err)
	}
}
