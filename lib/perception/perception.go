// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package perception defines the observer collaborator interface and
// tracks perception liveness.
//
// The observer layer (vision, OCR, accessibility trees) is external to
// the authority core. The core needs only two things from it: a
// current workspace reading and an honest answer about freshness.
// Execution is never admitted, and snapshots are never captured, on
// stale perception — a blind system must not move.
package perception

import (
	"context"
	"sync"
	"time"

	"github.com/bureau-foundation/warden/lib/clock"
)

// WorkspaceState is one perception reading.
type WorkspaceState struct {
	// FrameTimestamp is when the underlying frame was captured.
	FrameTimestamp time.Time

	// ScreenTextHash is a digest of the visible screen text, bound
	// into snapshot metadata as capture evidence.
	ScreenTextHash string

	// TextBlocks are the extracted visible text runs, used by intent
	// scanning. May be empty when the observer does not do OCR.
	TextBlocks []string
}

// Observer is the perception collaborator consumed by the core.
type Observer interface {
	// CaptureState returns the most recent workspace reading.
	CaptureState(ctx context.Context) (WorkspaceState, error)

	// Fresh reports whether perception is live and current. The
	// gate and snapshot manager refuse to proceed when this is
	// false.
	Fresh() bool
}

// Health tracks perception quality over successive readings. It
// recovers understanding, never the environment: a degraded verdict
// blocks new execution but triggers no workspace writes.
type Health struct {
	mu sync.Mutex

	// StaleLimit is how old a frame may be before the reading
	// counts as unstable.
	StaleLimit time.Duration

	// UnstableLimit is how many consecutive unstable readings mark
	// perception as degraded.
	UnstableLimit int

	clock         clock.Clock
	lastGood      time.Time
	unstableCount int
}

// NewHealth returns a Health tracker with the given limits. Zero
// values select the defaults: 5s stale limit, 3 consecutive unstable
// readings.
func NewHealth(clk clock.Clock, staleLimit time.Duration, unstableLimit int) *Health {
	if staleLimit <= 0 {
		staleLimit = 5 * time.Second
	}
	if unstableLimit <= 0 {
		unstableLimit = 3
	}
	return &Health{
		StaleLimit:    staleLimit,
		UnstableLimit: unstableLimit,
		clock:         clk,
	}
}

// Update folds one reading into the tracker and reports whether the
// reading was stable. A missing frame or a frame older than StaleLimit
// is unstable; a stable reading resets the unstable count.
func (h *Health) Update(frameTimestamp time.Time, available bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	if !available || frameTimestamp.IsZero() {
		h.unstableCount++
		return false
	}
	if !h.lastGood.IsZero() && now.Sub(frameTimestamp) > h.StaleLimit {
		h.unstableCount++
		return false
	}

	h.lastGood = now
	h.unstableCount = 0
	return true
}

// Degraded reports whether perception has been unstable for at least
// UnstableLimit consecutive readings.
func (h *Health) Degraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unstableCount >= h.UnstableLimit
}
