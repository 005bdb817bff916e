// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Warden's authority guarantees are stated in terms of bounded
// latencies: the arbitrator polls for human input on a fixed interval,
// restoration steps query the OS with deadlines, and perception
// freshness decays with wall time. Testing those bounds with real time
// makes every test a race. Production code therefore accepts a Clock
// parameter instead of calling time.Now, time.After, time.NewTicker,
// or time.Sleep directly; tests inject Fake() and advance time
// deterministically.
//
//	arbitrator := authority.NewArbitrator(authority.ArbitratorConfig{
//	    Clock: clock.Real(),
//	    ...
//	})
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	// ... start goroutines ...
//	c.WaitForTimers(1)              // wait for the poll ticker
//	c.Advance(50 * time.Millisecond) // fire it deterministically
package clock

import "time"

// Clock abstracts the time operations Warden uses. Production code
// injects Real(); tests inject Fake() with deterministic control.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks on its C channel
	// at the given interval. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer. Read ticks from C; call Stop when
// done. The C channel has capacity 1: if the consumer falls behind,
// ticks are dropped rather than queued, matching time.Ticker.
type Ticker struct {
	// C delivers ticks. Buffered with capacity 1.
	C <-chan time.Time

	stopFunc  func()
	resetFunc func(time.Duration)
}

// Stop turns off the ticker. No more ticks are sent on C after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

// Reset adjusts the ticker to a new interval and restarts the tick
// cycle.
func (t *Ticker) Reset(d time.Duration) { t.resetFunc(d) }
