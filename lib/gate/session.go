// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/bureau-foundation/warden/lib/authority"
	"github.com/bureau-foundation/warden/lib/schema"
)

// Session is the live handle for one admitted execution attempt. It
// carries the yield latch shared with the arbitrator and coalesces
// termination signals: termination mode is set exactly once, first
// signal wins, and every later signal is absorbed.
type Session struct {
	// ID uniquely identifies the attempt.
	ID string

	// Intent is the external intent that admitted the session.
	Intent string

	// Snapshot is the restoration target. Read-only.
	Snapshot *schema.Snapshot

	// StartedAt is the admission instant.
	StartedAt time.Time

	latch *authority.Latch

	mu           sync.Mutex
	termination  schema.TerminationMode
	terminatedAt time.Time
	ceasedAt     time.Time
}

func newSessionID() string {
	var raw [8]byte
	rand.Read(raw[:])
	return "sess-" + hex.EncodeToString(raw[:])
}

// Recover rebuilds a session handle from a marker left on disk by a
// dead process. The handle exists only to drive restoration: its
// latch is untripped and its termination is forced by the caller.
func Recover(marker *schema.SessionMarker) *Session {
	snap := marker.Snapshot
	return &Session{
		ID:        marker.SessionID,
		Intent:    marker.Intent,
		Snapshot:  &snap,
		StartedAt: time.UnixMilli(marker.AdmittedAt),
		latch:     authority.NewLatch(),
	}
}

// Latch returns the session's yield latch. The arbitrator trips it;
// the SOC loop and the restoration engine check it.
func (s *Session) Latch() *authority.Latch { return s.latch }

// Terminate records the termination mode if none is set yet, at the
// given instant. Returns true if this call won the coalescing race.
func (s *Session) Terminate(mode schema.TerminationMode, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.termination != "" {
		return false
	}
	s.termination = mode
	s.terminatedAt = at
	return true
}

// Termination returns the recorded termination mode, if any.
func (s *Session) Termination() (schema.TerminationMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termination, s.termination != ""
}

// MarkInputCeased records when automated input emission was ceased
// during restoration. The first recording wins; the verifier compares
// it against the tracker's last automated action.
func (s *Session) MarkInputCeased(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ceasedAt.IsZero() {
		s.ceasedAt = at
	}
}

// InputCeasedAt returns the recorded cessation instant, if any.
func (s *Session) InputCeasedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ceasedAt, !s.ceasedAt.IsZero()
}

// Archive renders the durable session record for the journal and
// external callers.
func (s *Session) Archive(state string) schema.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := schema.Session{
		SessionID:       s.ID,
		SnapshotID:      s.Snapshot.SnapshotID,
		Intent:          s.Intent,
		State:           state,
		TerminationMode: s.termination,
		StartedAt:       s.StartedAt.UnixMilli(),
	}
	if !s.terminatedAt.IsZero() {
		record.TerminatedAt = s.terminatedAt.UnixMilli()
	}
	return record
}
