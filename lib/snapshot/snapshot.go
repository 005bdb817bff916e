// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot captures pre-execution workspace state and persists
// it, together with session markers and restoration results, as
// compressed CBOR archives under the state directory.
//
// Exactly one snapshot exists per execution attempt. The manager
// refuses to capture while a previous snapshot is still bound to a
// session awaiting verified restoration: the restoration target must
// never be overwritten out from under a live session.
package snapshot

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/warden/lib/clock"
	"github.com/bureau-foundation/warden/lib/codec"
	"github.com/bureau-foundation/warden/lib/mode"
	"github.com/bureau-foundation/warden/lib/perception"
	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/workspace"
)

// snapshotIDKey domain-separates snapshot IDs from every other keyed
// hash in the system.
var snapshotIDKey = func() []byte {
	key := make([]byte, 32)
	copy(key, "warden.snapshot.id.v1")
	return key
}()

// ErrNotObserving is returned by Capture when the state machine is not
// in the observer state. Snapshots taken mid-execution would record
// machine-made state as the restoration target.
var ErrNotObserving = errors.New("snapshot capture requires observer mode")

// ErrPerceptionUnavailable is returned by Capture when the observer
// reports stale or degraded perception. A blind capture is worse than
// no capture.
var ErrPerceptionUnavailable = errors.New("perception unavailable")

// ErrSessionActive is returned by Capture when the current snapshot is
// still bound to a session awaiting verified restoration.
var ErrSessionActive = errors.New("snapshot bound to active session")

// ManagerConfig carries the manager's collaborators.
type ManagerConfig struct {
	Mode     *mode.Controller
	Observer perception.Observer
	Backend  workspace.Backend
	Store    *Store
	Health   *perception.Health
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Manager captures workspace snapshots. One manager exists per
// process; the capture counter feeding snapshot IDs is per-manager.
type Manager struct {
	mode     *mode.Controller
	observer perception.Observer
	backend  workspace.Backend
	store    *Store
	health   *perception.Health
	clock    clock.Clock
	logger   *slog.Logger

	mu           sync.Mutex
	counter      uint64
	active       *schema.Snapshot
	boundSession string
}

// NewManager constructs a Manager from its collaborators.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		mode:     cfg.Mode,
		observer: cfg.Observer,
		backend:  cfg.Backend,
		store:    cfg.Store,
		health:   cfg.Health,
		clock:    cfg.Clock,
		logger:   logger,
	}
}

// Capture records the current workspace state as a new snapshot,
// persists it, and returns it. The workspace is only read, never
// modified.
func (m *Manager) Capture(ctx context.Context) (*schema.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.boundSession != "" {
		return nil, fmt.Errorf("%w: session %s", ErrSessionActive, m.boundSession)
	}
	if current := m.mode.Current(); current != mode.Observer {
		return nil, fmt.Errorf("%w: current state is %s", ErrNotObserving, current)
	}
	if !m.observer.Fresh() {
		return nil, fmt.Errorf("%w: observer reports stale perception", ErrPerceptionUnavailable)
	}

	state, err := m.observer.CaptureState(ctx)
	if err != nil {
		if m.health != nil {
			m.health.Update(state.FrameTimestamp, false)
		}
		return nil, fmt.Errorf("%w: %v", ErrPerceptionUnavailable, err)
	}
	if m.health != nil {
		m.health.Update(state.FrameTimestamp, true)
		if m.health.Degraded() {
			return nil, fmt.Errorf("%w: perception degraded", ErrPerceptionUnavailable)
		}
	}

	cursor, err := m.backend.CursorPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cursor position: %w", err)
	}
	window, err := m.backend.FocusedWindow(ctx)
	if err != nil {
		return nil, fmt.Errorf("read focused window: %w", err)
	}
	if window.ID == "" {
		return nil, errors.New("capture: no window holds focus")
	}
	app, err := m.backend.ActiveApplication(ctx)
	if err != nil {
		return nil, fmt.Errorf("read active application: %w", err)
	}

	snap := &schema.Snapshot{
		Timestamp:     m.clock.Now().UnixMilli(),
		Cursor:        cursor,
		FocusedWindow: window.ID,
		WindowTitle:   window.Title,
		ActiveApp:     app.Name,
		ProcessID:     app.PID,
		ExecutionMode: schema.ExecutionModeObserver,
		Metadata: map[string]any{
			"frame_timestamp":  state.FrameTimestamp.UnixMilli(),
			"screen_text_hash": state.ScreenTextHash,
		},
	}

	m.counter++
	id, err := deriveID(snap, m.counter)
	if err != nil {
		return nil, err
	}
	snap.SnapshotID = id

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if err := m.store.WriteSnapshot(snap); err != nil {
		return nil, err
	}
	m.active = snap

	m.logger.Info("snapshot captured",
		"snapshot_id", snap.SnapshotID,
		"cursor_x", snap.Cursor.X,
		"cursor_y", snap.Cursor.Y,
		"focused_window", snap.FocusedWindow,
		"active_app", snap.ActiveApp)
	return snap, nil
}

// Bind marks the active snapshot as belonging to the given session.
// Until Release is called for that session, further captures fail.
func (m *Manager) Bind(sessionID string) (*schema.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID == "" {
		return nil, errors.New("bind: empty session ID")
	}
	if m.active == nil {
		return nil, errors.New("bind: no captured snapshot")
	}
	if m.boundSession != "" {
		return nil, fmt.Errorf("%w: session %s", ErrSessionActive, m.boundSession)
	}
	m.boundSession = sessionID
	return m.active, nil
}

// Release frees the snapshot bound to the given session after its
// restoration has been verified. Releasing an unbound session is a
// no-op.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.boundSession == sessionID {
		m.boundSession = ""
		m.active = nil
	}
}

// Active returns the most recently captured snapshot, if any.
func (m *Manager) Active() (*schema.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != nil
}

// deriveID computes the snapshot ID from a keyed BLAKE3 hash of the
// canonical CBOR encoding plus the capture counter. The counter keeps
// IDs distinct even when the workspace state is byte-identical across
// captures.
func deriveID(snap *schema.Snapshot, counter uint64) (string, error) {
	payload, err := codec.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("derive snapshot ID: %w", err)
	}
	hasher, err := blake3.NewKeyed(snapshotIDKey)
	if err != nil {
		return "", fmt.Errorf("derive snapshot ID: %w", err)
	}
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)
	hasher.Write(counterBytes[:])
	hasher.Write(payload)
	sum := hasher.Sum(nil)
	return "snap-" + hex.EncodeToString(sum[:16]), nil
}
