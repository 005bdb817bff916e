// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine drives execution sessions end to end: admit through
// the gate, run the SOC under arbitration, and on any termination
// route into restoration and verification. The engine owns the
// termination taxonomy — every way a session can end maps to exactly
// one TerminationMode, and every one of them reaches the restoration
// engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/warden/lib/authority"
	"github.com/bureau-foundation/warden/lib/clock"
	"github.com/bureau-foundation/warden/lib/gate"
	"github.com/bureau-foundation/warden/lib/journal"
	"github.com/bureau-foundation/warden/lib/perception"
	"github.com/bureau-foundation/warden/lib/policy"
	"github.com/bureau-foundation/warden/lib/restore"
	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/snapshot"
	"github.com/bureau-foundation/warden/lib/verify"
)

// DefaultSupervisorInterval is how often the supervisor re-checks
// perception freshness during execution.
const DefaultSupervisorInterval = 500 * time.Millisecond

// Ledger is the audit sink for engine milestones. *journal.Journal
// satisfies it.
type Ledger = verify.Ledger

// Config wires an Engine. All collaborators are required unless noted.
type Config struct {
	Gate     *gate.Gate
	Restorer *restore.Engine
	Verifier *verify.Verifier

	// Store is the archive store shared with the gate; recovery
	// reads the persisted marker from it.
	Store *snapshot.Store

	// Observer and Tracker back the supervisor and the emitter.
	Observer perception.Observer
	Tracker  *authority.Tracker

	// Policy decides per-action. A nil oracle denies everything.
	Policy *policy.Oracle

	// Sink physically injects input.
	Sink InputSink

	// Journal receives all engine milestones. Nil disables auditing;
	// production configs pass the hash-chained journal.
	Journal Ledger

	Clock  clock.Clock
	Logger *slog.Logger

	// PollInterval is the arbitrator's detection bound. Zero selects
	// authority.DefaultPollInterval.
	PollInterval time.Duration

	// SupervisorInterval is the perception watchdog period. Zero
	// selects DefaultSupervisorInterval.
	SupervisorInterval time.Duration
}

// Engine runs sessions. One Engine serves one workspace; the gate it
// wraps enforces the single-session invariant.
type Engine struct {
	gate     *gate.Gate
	restorer *restore.Engine
	verifier *verify.Verifier
	store    *snapshot.Store
	observer perception.Observer
	tracker  *authority.Tracker
	policy   *policy.Oracle
	sink     InputSink
	journal  Ledger
	clock    clock.Clock
	logger   *slog.Logger

	pollInterval       time.Duration
	supervisorInterval time.Duration

	mu      sync.Mutex
	arbiter *authority.Arbitrator
}

// New returns an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	supervisor := cfg.SupervisorInterval
	if supervisor <= 0 {
		supervisor = DefaultSupervisorInterval
	}
	return &Engine{
		gate:               cfg.Gate,
		restorer:           cfg.Restorer,
		verifier:           cfg.Verifier,
		store:              cfg.Store,
		observer:           cfg.Observer,
		tracker:            cfg.Tracker,
		policy:             cfg.Policy,
		sink:               cfg.Sink,
		journal:            cfg.Journal,
		clock:              cfg.Clock,
		logger:             logger,
		pollInterval:       cfg.PollInterval,
		supervisorInterval: supervisor,
	}
}

// ObserveInput forwards a raw input observation to the active
// session's arbitrator. Observations outside a session are dropped:
// with no automation running there is nothing to yield.
func (e *Engine) ObserveInput(obs authority.InputObservation) {
	e.mu.Lock()
	arbiter := e.arbiter
	e.mu.Unlock()
	if arbiter != nil {
		arbiter.ObserveInput(obs)
	}
}

// Abort requests a human abort of the active session. Returns false
// when no session is running.
func (e *Engine) Abort(detail string) bool {
	e.mu.Lock()
	arbiter := e.arbiter
	e.mu.Unlock()
	if arbiter == nil {
		return false
	}
	arbiter.RequestAbort(detail)
	return true
}

// RunSession executes one attempt: admit, run the SOC under
// arbitration, terminate, restore, verify. The returned result is the
// verifier's verdict; err is non-nil when admission was denied or the
// post-execution pipeline failed (in which case the machine is
// halted). A session that terminated abnormally but restored and
// verified cleanly returns a verified result and a nil error.
func (e *Engine) RunSession(ctx context.Context, intent string, soc SOC) (*schema.RestorationResult, error) {
	session, err := e.gate.Admit(ctx, intent)
	if err != nil {
		return nil, err
	}
	e.logger.Info("session admitted", "session", session.ID, "intent", intent)

	if err := errors.Join(
		e.record(ctx, session.ID, journal.KindSnapshot, session.Snapshot),
		e.record(ctx, session.ID, journal.KindAdmitted, session.Archive("executing")),
	); err != nil {
		// An attempt that cannot be audited does not run. The
		// session still terminates through the normal pipeline so
		// the workspace is provably restored.
		session.Terminate(schema.TerminationExecutionError, e.clock.Now())
		return e.conclude(ctx, session, err)
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	arbiter := authority.NewArbitrator(authority.ArbitratorConfig{
		Clock:        e.clock,
		Tracker:      e.tracker,
		Latch:        session.Latch(),
		PollInterval: e.pollInterval,
		Logger:       e.logger,
	})
	e.mu.Lock()
	e.arbiter = arbiter
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.arbiter = nil
		e.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		arbiter.Run(execCtx)
	}()
	go func() {
		defer wg.Done()
		e.supervise(execCtx, arbiter)
	}()

	socDone := make(chan socOutcome, 1)
	go e.runSOC(execCtx, intent, soc, session, socDone)

	var termination schema.TerminationMode
	var detail string
	select {
	case outcome := <-socDone:
		termination, detail = e.classifySOC(session, outcome)
	case event := <-arbiter.Events():
		termination = terminationForYield(event.Source)
		detail = event.Detail
	case <-ctx.Done():
		// The hosting process is shutting down in an orderly way.
		// That is an operator decision, not a crash.
		termination = schema.TerminationHumanAbort
		detail = "run context canceled: " + context.Cause(ctx).Error()
	}

	session.Terminate(termination, e.clock.Now())
	cancel()
	wg.Wait()

	mode, _ := session.Termination()
	e.logger.Info("session terminated",
		"session", session.ID,
		"mode", string(mode),
		"detail", detail,
	)
	if cause, tripped := session.Latch().Tripped(); tripped {
		if err := e.record(ctx, session.ID, journal.KindYield, map[string]string{
			"source": cause.Source.String(),
			"detail": cause.Detail,
		}); err != nil {
			e.logger.Error("journal yield", "error", err)
		}
	}
	if err := e.record(ctx, session.ID, journal.KindTermination, map[string]string{
		"mode":   string(mode),
		"detail": detail,
	}); err != nil {
		e.logger.Error("journal termination", "error", err)
	}

	return e.conclude(ctx, session, nil)
}

// conclude runs the mandatory back half of every session: restore,
// verify, resolve, seal. It runs even when the surrounding context is
// cancelled; a dying daemon still restores the workspace first.
func (e *Engine) conclude(ctx context.Context, session *gate.Session, pending error) (*schema.RestorationResult, error) {
	rctx := context.WithoutCancel(ctx)

	result := e.restorer.Restore(rctx, session)
	if err := e.record(rctx, session.ID, journal.KindRestore, result); err != nil {
		e.logger.Error("journal restoration result", "error", err)
	}

	verdict, verifyErr := e.verifier.Verify(rctx, session, result)

	// The session slot opens regardless of the verdict: on failure
	// the halt latch blocks re-admission, and the marker stays on
	// disk for recovery.
	e.gate.Resolve(session.ID)

	if verifyErr != nil {
		return verdict, errors.Join(pending, verifyErr)
	}
	if verdict.Verified {
		if err := e.seal(rctx, session.ID); err != nil {
			e.logger.Error("seal session", "session", session.ID, "error", err)
		}
	}
	return verdict, pending
}

func (e *Engine) seal(ctx context.Context, sessionID string) error {
	sealer, ok := e.journal.(interface {
		Seal(ctx context.Context, sessionID string) error
	})
	if !ok {
		return nil
	}
	return sealer.Seal(ctx, sessionID)
}

// socOutcome is how the SOC goroutine ended.
type socOutcome struct {
	err      error
	panicked bool
	panicVal any
}

func (e *Engine) runSOC(ctx context.Context, intent string, soc SOC, session *gate.Session, done chan<- socOutcome) {
	defer func() {
		if r := recover(); r != nil {
			done <- socOutcome{panicked: true, panicVal: r}
		}
	}()
	err := soc.Execute(ctx, intent, &emitter{engine: e, session: session})
	done <- socOutcome{err: err}
}

// classifySOC maps a finished SOC goroutine to a termination mode. A
// tripped yield latch outranks whatever the SOC reported: the SOC
// bailing out because EmitInput refused it is a yield, not an error.
func (e *Engine) classifySOC(session *gate.Session, outcome socOutcome) (schema.TerminationMode, string) {
	if outcome.panicked {
		return schema.TerminationProcessCrash, fmt.Sprintf("SOC panic: %v", outcome.panicVal)
	}
	if cause, tripped := session.Latch().Tripped(); tripped {
		return terminationForYield(cause.Source), cause.Detail
	}
	if outcome.err != nil {
		return schema.TerminationExecutionError, outcome.err.Error()
	}
	return schema.TerminationNormalCompletion, ""
}

// terminationForYield maps the yielding authority to its termination
// mode: physical input is an authority yield, an explicit abort is a
// human abort, and the core's own preconditions (stale perception) are
// a vision failure.
func terminationForYield(source authority.Source) schema.TerminationMode {
	switch source {
	case authority.HumanPhysical:
		return schema.TerminationAuthorityYield
	case authority.HumanIntent:
		return schema.TerminationHumanAbort
	default:
		return schema.TerminationVisionFailure
	}
}

// supervise watches perception freshness for the duration of the
// session. Stale perception mid-session means the authority core can
// no longer verify workspace state, so it yields.
func (e *Engine) supervise(ctx context.Context, arbiter *authority.Arbitrator) {
	ticker := e.clock.NewTicker(e.supervisorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.observer.Fresh() {
				arbiter.ReportPrecondition("perception stale during execution")
				return
			}
		}
	}
}

// RecoverStaleSession checks for a session marker left behind by a
// dead process and, if one exists, drives it through forced
// termination, restoration, and verification. Must run before any new
// admission. Returns (nil, nil) when there is nothing to recover.
//
// A marker whose recorded PID is still alive (and is not this process)
// is an invariant violation: two authority cores over one workspace.
func (e *Engine) RecoverStaleSession(ctx context.Context) (*schema.RestorationResult, error) {
	marker, err := e.store.ReadMarker()
	if errors.Is(err, snapshot.ErrNoMarker) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session marker: %w", err)
	}
	if marker.PID != os.Getpid() && pidAlive(marker.PID) {
		return nil, fmt.Errorf("session marker for %s held by live process %d",
			marker.SessionID, marker.PID)
	}

	e.logger.Warn("recovering stale session",
		"session", marker.SessionID,
		"pid", marker.PID,
	)
	session := gate.Recover(marker)
	session.Terminate(schema.TerminationForced, e.clock.Now())

	if err := e.record(ctx, session.ID, journal.KindRecovery, marker); err != nil {
		e.logger.Error("journal crash recovery", "error", err)
	}
	return e.conclude(ctx, session, nil)
}

// pidAlive reports whether a process with the given PID exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// record writes a journal entry, tolerating a nil journal.
func (e *Engine) record(ctx context.Context, sessionID, kind string, payload any) error {
	if e.journal == nil {
		return nil
	}
	if err := e.journal.Record(ctx, sessionID, kind, payload); err != nil {
		return fmt.Errorf("journal %s: %w", kind, err)
	}
	return nil
}
