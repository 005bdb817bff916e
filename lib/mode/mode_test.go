// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mode

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/warden/lib/clock"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestController() (*Controller, *clock.FakeClock) {
	c := clock.Fake(testEpoch)
	return NewController(c, nil), c
}

func TestInitialState(t *testing.T) {
	controller, _ := newTestController()
	if got := controller.Current(); got != Observer {
		t.Errorf("Current() = %s, want %s", got, Observer)
	}
	if halted, _ := controller.Halted(); halted {
		t.Error("new controller reports halted")
	}
}

func TestLegalCycle(t *testing.T) {
	controller, _ := newTestController()

	steps := []struct {
		to     State
		reason string
	}{
		{Executing, "gate admitted intent"},
		{Restoring, "termination signal"},
		{Observer, "restoration verified"},
	}
	for _, step := range steps {
		if err := controller.Transition(step.to, step.reason); err != nil {
			t.Fatalf("Transition(%s) error: %v", step.to, err)
		}
		if got := controller.Current(); got != step.to {
			t.Fatalf("Current() = %s, want %s", got, step.to)
		}
	}
	if got := controller.LastReason(); got != "restoration verified" {
		t.Errorf("LastReason() = %q", got)
	}
}

func TestIllegalTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup []State
		to    State
	}{
		{"observer to restoring", nil, Restoring},
		{"observer to observer", nil, Observer},
		{"executing to observer", []State{Executing}, Observer},
		{"executing to executing", []State{Executing}, Executing},
		{"restoring to executing", []State{Executing, Restoring}, Executing},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			controller, _ := newTestController()
			for _, s := range test.setup {
				if err := controller.Transition(s, "setup"); err != nil {
					t.Fatalf("setup transition to %s: %v", s, err)
				}
			}
			before := controller.Current()

			err := controller.Transition(test.to, "should fail")
			var violation *InvariantViolation
			if !errors.As(err, &violation) {
				t.Fatalf("Transition(%s) error = %v, want *InvariantViolation", test.to, err)
			}
			if violation.From != before || violation.To != test.to {
				t.Errorf("violation = %s -> %s, want %s -> %s", violation.From, violation.To, before, test.to)
			}
			// Illegal transitions never move the state.
			if got := controller.Current(); got != before {
				t.Errorf("state moved to %s after illegal transition", got)
			}
		})
	}
}

func TestTransitionRequiresReason(t *testing.T) {
	controller, _ := newTestController()
	err := controller.Transition(Executing, "")
	var violation *InvariantViolation
	if !errors.As(err, &violation) {
		t.Fatalf("Transition with empty reason = %v, want *InvariantViolation", err)
	}
	if got := controller.Current(); got != Observer {
		t.Errorf("state moved to %s on reasonless transition", got)
	}
}

func TestUptime(t *testing.T) {
	controller, fakeClock := newTestController()
	fakeClock.Advance(90 * time.Second)
	if got := controller.Uptime(); got != 90*time.Second {
		t.Errorf("Uptime() = %v, want 90s", got)
	}

	if err := controller.Transition(Executing, "admitted"); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	fakeClock.Advance(5 * time.Second)
	if got := controller.Uptime(); got != 5*time.Second {
		t.Errorf("Uptime() after transition = %v, want 5s", got)
	}
}

func TestHaltLatch(t *testing.T) {
	controller, _ := newTestController()

	controller.Halt("verification failed: cursor_mismatch")
	halted, reason := controller.Halted()
	if !halted || reason != "verification failed: cursor_mismatch" {
		t.Fatalf("Halted() = %v, %q", halted, reason)
	}

	// A second Halt keeps the original reason.
	controller.Halt("later reason")
	if _, reason := controller.Halted(); reason != "verification failed: cursor_mismatch" {
		t.Errorf("second Halt overwrote reason: %q", reason)
	}

	if err := controller.ClearHalt(""); err == nil {
		t.Error("ClearHalt accepted an empty intent")
	}
	if halted, _ := controller.Halted(); !halted {
		t.Error("empty-intent ClearHalt released the latch")
	}

	if err := controller.ClearHalt("operator requested retry after fixing display"); err != nil {
		t.Fatalf("ClearHalt() error: %v", err)
	}
	if halted, _ := controller.Halted(); halted {
		t.Error("latch still set after ClearHalt")
	}

	if err := controller.ClearHalt("again"); err == nil {
		t.Error("ClearHalt succeeded while not halted")
	}
}

func TestSerializedTransitions(t *testing.T) {
	controller, _ := newTestController()

	// Many goroutines race to claim OBSERVER -> EXECUTING. Exactly
	// one may win; every other attempt must fail loudly.
	const racers = 32
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			errs[slot] = controller.Transition(Executing, "race")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var violation *InvariantViolation
		if !errors.As(err, &violation) {
			t.Errorf("loser error = %v, want *InvariantViolation", err)
		}
	}
	if winners != 1 {
		t.Errorf("%d transitions succeeded, want exactly 1", winners)
	}
	if got := controller.Current(); got != Executing {
		t.Errorf("Current() = %s, want %s", got, Executing)
	}
}
