// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package perception

import (
	"context"
	"sync"
	"time"
)

// FakeObserver is a deterministic Observer for tests.
type FakeObserver struct {
	mu    sync.Mutex
	state WorkspaceState
	fresh bool
	err   error
}

// NewFakeObserver returns a fresh FakeObserver with the given frame
// timestamp.
func NewFakeObserver(frameTimestamp time.Time) *FakeObserver {
	return &FakeObserver{
		state: WorkspaceState{
			FrameTimestamp: frameTimestamp,
			ScreenTextHash: "fake-hash",
		},
		fresh: true,
	}
}

// SetFresh controls the freshness verdict.
func (o *FakeObserver) SetFresh(fresh bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fresh = fresh
}

// SetState overwrites the reading returned by CaptureState.
func (o *FakeObserver) SetState(state WorkspaceState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
}

// FailWith makes CaptureState return err. Pass nil to clear.
func (o *FakeObserver) FailWith(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *FakeObserver) CaptureState(ctx context.Context) (WorkspaceState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return WorkspaceState{}, o.err
	}
	return o.state, nil
}

func (o *FakeObserver) Fresh() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fresh
}
