// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/warden/lib/clock"
)

// DefaultPollInterval bounds human-input detection latency. The
// arbitrator's ticker fires at this interval during execution, so a
// human key press is detected and converted into a yield within one
// interval regardless of what the execution loop is doing.
const DefaultPollInterval = 50 * time.Millisecond

// InputObservation is one raw input event delivered by the embedding
// process's input hook. The hook reports everything it sees — human
// and synthetic alike — and the arbitrator attributes it.
type InputObservation struct {
	// At is when the event was observed.
	At time.Time

	// Device describes the input device, for the audit trail.
	Device string
}

// ArbitratorConfig configures an Arbitrator.
type ArbitratorConfig struct {
	// Clock drives the poll ticker. Required.
	Clock clock.Clock

	// Tracker attributes observations. Required; shared with the
	// execution loop, which marks automated actions on it.
	Tracker *Tracker

	// Latch is the session's yield latch. Nil constructs a fresh
	// one; the gate passes the latch it created at admission so the
	// arbitrator, the execution loop, and the restoration engine all
	// see the same trip.
	Latch *Latch

	// PollInterval bounds detection latency. Zero selects
	// DefaultPollInterval.
	PollInterval time.Duration

	// Logger receives arbitration events. Nil discards.
	Logger *slog.Logger
}

// Arbitrator resolves authority precedence for one execution session
// and detects conditions requiring yield. It runs concurrently with
// execution; its detection latency is bounded by the poll interval and
// independent of execution-loop stalls.
//
// One Arbitrator serves exactly one session. Its latch is created
// untripped at construction and is never reusable — a new session
// requires a new Arbitrator.
type Arbitrator struct {
	clock    clock.Clock
	tracker  *Tracker
	interval time.Duration
	logger   *slog.Logger
	latch    *Latch

	mu        sync.Mutex
	inbox     []InputObservation
	overflow  bool
	announced bool

	events chan Event
}

// inboxLimit caps buffered observations between polls. On overflow the
// arbitrator fails toward the human: it treats the session as having
// received human input rather than guessing which dropped events were
// synthetic.
const inboxLimit = 256

// NewArbitrator returns an Arbitrator for a new session.
func NewArbitrator(cfg ArbitratorConfig) *Arbitrator {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	latch := cfg.Latch
	if latch == nil {
		latch = NewLatch()
	}
	return &Arbitrator{
		clock:    cfg.Clock,
		tracker:  cfg.Tracker,
		interval: interval,
		logger:   logger,
		latch:    latch,
		events:   make(chan Event, 1),
	}
}

// Latch returns the session's yield latch for other components to
// check. The latch is read-mostly; only the arbitrator trips it.
func (a *Arbitrator) Latch() *Latch { return a.latch }

// Events delivers at most one Event per session: the yield request.
func (a *Arbitrator) Events() <-chan Event { return a.events }

// ObserveInput records a raw input event. Never blocks — input hooks
// run on latency-sensitive paths. The observation is classified on the
// next poll.
func (a *Arbitrator) ObserveInput(obs InputObservation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.inbox) >= inboxLimit {
		a.overflow = true
		return
	}
	a.inbox = append(a.inbox, obs)
}

// RequestAbort delivers an explicit human abort. Trips the latch with
// HumanIntent authority; the next poll announces the yield.
func (a *Arbitrator) RequestAbort(detail string) {
	a.latch.Trip(YieldCause{
		Source: HumanIntent,
		At:     a.clock.Now(),
		Detail: detail,
	})
}

// ReportPrecondition records that a gate precondition stopped holding
// mid-session (stale perception, mode drift). Trips the latch with
// Arbitration authority.
func (a *Arbitrator) ReportPrecondition(detail string) {
	a.latch.Trip(YieldCause{
		Source: Arbitration,
		At:     a.clock.Now(),
		Detail: detail,
	})
}

// Poll classifies pending observations and returns a YieldRequested
// event the first time the session's latch trips, nil otherwise. The
// event is returned exactly once per session even when the latch was
// tripped out-of-band (RequestAbort, ReportPrecondition).
//
// The arbitrator never suppresses, queues, or overrides detected human
// input — its entire response is to stop the automation.
func (a *Arbitrator) Poll() *Event {
	a.mu.Lock()
	pending := a.inbox
	a.inbox = nil
	overflowed := a.overflow
	a.overflow = false
	a.mu.Unlock()

	if overflowed {
		a.latch.Trip(YieldCause{
			Source: HumanPhysical,
			At:     a.clock.Now(),
			Detail: "input observation inbox overflowed",
		})
	}

	for _, obs := range pending {
		if a.tracker.Classify(obs.At) != HumanPhysical {
			continue
		}
		a.latch.Trip(YieldCause{
			Source: HumanPhysical,
			At:     obs.At,
			Detail: "human input on " + obs.Device,
		})
		break
	}

	cause, tripped := a.latch.Tripped()
	if !tripped {
		return nil
	}

	a.mu.Lock()
	alreadyAnnounced := a.announced
	a.announced = true
	a.mu.Unlock()
	if alreadyAnnounced {
		return nil
	}

	a.logger.Info("yield requested",
		"source", cause.Source.String(),
		"detail", cause.Detail,
	)
	return &Event{
		Kind:   EventYieldRequested,
		Source: cause.Source,
		At:     cause.At,
		Detail: cause.Detail,
	}
}

// Run polls on the configured interval until the session yields or ctx
// is canceled. A yield event is delivered on Events() and Run returns:
// once a session has yielded there is nothing left to arbitrate.
func (a *Arbitrator) Run(ctx context.Context) {
	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if event := a.Poll(); event != nil {
				select {
				case a.events <- *event:
				case <-ctx.Done():
				}
				return
			}
		}
	}
}
