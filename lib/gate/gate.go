// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gate is the single entry point into execution. Every attempt
// to move the state machine out of the observer state passes through
// Admit; nothing else transitions to EXECUTING.
//
// Admission is atomic: either every precondition holds and the caller
// receives a live session bound to a fresh snapshot, or nothing
// changed. A denial carries the first violated precondition and leaves
// the state machine untouched.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/bureau-foundation/warden/lib/authority"
	"github.com/bureau-foundation/warden/lib/clock"
	"github.com/bureau-foundation/warden/lib/mode"
	"github.com/bureau-foundation/warden/lib/perception"
	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/snapshot"
)

// Denied is returned by Admit when a precondition fails. It is a
// refusal, not a fault: the state machine has not moved.
type Denied struct {
	// Reason names the first violated precondition.
	Reason string
}

func (d *Denied) Error() string { return "execution denied: " + d.Reason }

// Config carries the gate's collaborators.
type Config struct {
	Mode      *mode.Controller
	Observer  perception.Observer
	Snapshots *snapshot.Manager
	Store     *snapshot.Store
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Gate admits execution attempts. One gate exists per daemon; at most
// one session is live at a time.
type Gate struct {
	mode      *mode.Controller
	observer  perception.Observer
	snapshots *snapshot.Manager
	store     *snapshot.Store
	clock     clock.Clock
	logger    *slog.Logger

	mu     sync.Mutex
	active *Session
}

// New constructs a Gate.
func New(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		mode:      cfg.Mode,
		observer:  cfg.Observer,
		snapshots: cfg.Snapshots,
		store:     cfg.Store,
		clock:     cfg.Clock,
		logger:    logger,
	}
}

// Admit checks every admission precondition, captures and binds a
// snapshot, persists the session marker, and transitions the state
// machine to EXECUTING. On any precondition failure it returns a
// *Denied and the system remains exactly as it was.
func (g *Gate) Admit(ctx context.Context, intent string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if intent == "" {
		return nil, &Denied{Reason: "empty intent"}
	}
	if g.active != nil {
		return nil, &Denied{Reason: fmt.Sprintf("session %s already active", g.active.ID)}
	}
	if halted, reason := g.mode.Halted(); halted {
		return nil, &Denied{Reason: fmt.Sprintf("halted: %s", reason)}
	}
	if current := g.mode.Current(); current != mode.Observer {
		return nil, &Denied{Reason: fmt.Sprintf("state is %s, not %s", current, mode.Observer)}
	}
	if !g.observer.Fresh() {
		return nil, &Denied{Reason: "perception is not fresh"}
	}

	snap, err := g.snapshots.Capture(ctx)
	if err != nil {
		if isRefusal(err) {
			return nil, &Denied{Reason: fmt.Sprintf("snapshot capture: %v", err)}
		}
		return nil, fmt.Errorf("snapshot capture: %w", err)
	}

	session := &Session{
		ID:        newSessionID(),
		Intent:    intent,
		Snapshot:  snap,
		StartedAt: g.clock.Now(),
		latch:     authority.NewLatch(),
	}
	if _, err := g.snapshots.Bind(session.ID); err != nil {
		return nil, fmt.Errorf("bind snapshot: %w", err)
	}

	marker := &schema.SessionMarker{
		SessionID:  session.ID,
		Snapshot:   *snap,
		Intent:     intent,
		PID:        os.Getpid(),
		AdmittedAt: session.StartedAt.UnixMilli(),
	}
	if err := g.store.WriteMarker(marker); err != nil {
		g.snapshots.Release(session.ID)
		return nil, fmt.Errorf("persist session marker: %w", err)
	}

	if err := g.mode.Transition(mode.Executing, "admitted: "+intent); err != nil {
		g.snapshots.Release(session.ID)
		if removeErr := g.store.RemoveMarker(); removeErr != nil {
			g.logger.Error("orphaned session marker after failed transition",
				"session_id", session.ID, "error", removeErr)
		}
		return nil, err
	}

	g.active = session
	g.logger.Info("session admitted",
		"session_id", session.ID,
		"snapshot_id", snap.SnapshotID,
		"intent", intent)
	return session, nil
}

// Active returns the live session, if any.
func (g *Gate) Active() (*Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active, g.active != nil
}

// Resolve closes out a session after its restoration outcome has been
// decided (verified, or halted with an artifact). It releases the
// bound snapshot; the verifier owns marker removal.
func (g *Gate) Resolve(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != nil && g.active.ID == sessionID {
		g.active = nil
	}
	g.snapshots.Release(sessionID)
}

// isRefusal distinguishes precondition refusals inside the capture
// path from real faults.
func isRefusal(err error) bool {
	return errors.Is(err, snapshot.ErrNotObserving) ||
		errors.Is(err, snapshot.ErrPerceptionUnavailable) ||
		errors.Is(err, snapshot.ErrSessionActive)
}
