// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"sync"
	"time"

	"github.com/bureau-foundation/warden/lib/clock"
)

// DefaultAttributionWindow is how long after an automated action a raw
// input event is still attributed to the execution system rather than
// a human. Synthetic events echo back through the input layer with
// some delay; anything outside the window cannot have been ours.
const DefaultAttributionWindow = 200 * time.Millisecond

// Tracker attributes raw input events to a source. It never blocks or
// filters input — it only classifies. Blocking human input anywhere,
// for any reason, is outside this system's authority.
type Tracker struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration

	lastAutomated time.Time
	haveAutomated bool
}

// NewTracker returns a Tracker using the given attribution window.
// window <= 0 selects DefaultAttributionWindow.
func NewTracker(clk clock.Clock, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultAttributionWindow
	}
	return &Tracker{clock: clk, window: window}
}

// MarkAutomatedAction records that the execution system is emitting an
// input primitive now. The execution loop calls this immediately
// before each emission.
func (t *Tracker) MarkAutomatedAction() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAutomated = t.clock.Now()
	t.haveAutomated = true
}

// Classify attributes a raw input event observed at the given time.
// Events within the attribution window of the last automated action
// classify as ExecutionSystem; everything else — including any event
// before the first automated action — is HumanPhysical.
//
// Ambiguity resolves toward the human: misclassifying our own echo as
// human costs one unnecessary yield, while the opposite mistake would
// let automation fight a person.
func (t *Tracker) Classify(at time.Time) Source {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.haveAutomated {
		return HumanPhysical
	}
	if at.Sub(t.lastAutomated) > t.window {
		return HumanPhysical
	}
	return ExecutionSystem
}

// LastAutomatedAction returns the time of the most recent automated
// emission and whether one has occurred. The verifier uses this to
// prove no automated input followed cessation.
func (t *Tracker) LastAutomatedAction() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAutomated, t.haveAutomated
}
