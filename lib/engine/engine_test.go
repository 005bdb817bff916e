// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/warden/lib/authority"
	"github.com/bureau-foundation/warden/lib/clock"
	"github.com/bureau-foundation/warden/lib/gate"
	"github.com/bureau-foundation/warden/lib/journal"
	"github.com/bureau-foundation/warden/lib/mode"
	"github.com/bureau-foundation/warden/lib/perception"
	"github.com/bureau-foundation/warden/lib/policy"
	"github.com/bureau-foundation/warden/lib/restore"
	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/snapshot"
	"github.com/bureau-foundation/warden/lib/verify"
	"github.com/bureau-foundation/warden/lib/workspace"
)

// socFunc adapts a function to the SOC interface.
type socFunc func(ctx context.Context, intent string, emit Emitter) error

func (f socFunc) Execute(ctx context.Context, intent string, emit Emitter) error {
	return f(ctx, intent, emit)
}

// fakeSink records injected actions.
type fakeSink struct {
	mu      sync.Mutex
	actions []Action
}

func (s *fakeSink) Inject(ctx context.Context, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

func (s *fakeSink) injected() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action(nil), s.actions...)
}

// memoryLedger records journal milestones in order.
type memoryLedger struct {
	mu      sync.Mutex
	entries []ledgerEntry
	sealed  []string
}

type ledgerEntry struct {
	session string
	kind    string
	payload any
}

func (l *memoryLedger) Record(ctx context.Context, sessionID, kind string, payload any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ledgerEntry{session: sessionID, kind: kind, payload: payload})
	return nil
}

func (l *memoryLedger) Seal(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = append(l.sealed, sessionID)
	return nil
}

func (l *memoryLedger) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.kind
	}
	return out
}

func (l *memoryLedger) terminationMode() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.kind == journal.KindTermination {
			return e.payload.(map[string]string)["mode"]
		}
	}
	return ""
}

type fixture struct {
	engine     *Engine
	gate       *gate.Gate
	controller *mode.Controller
	observer   *perception.FakeObserver
	backend    *workspace.Fake
	store      *snapshot.Store
	sink       *fakeSink
	ledger     *memoryLedger
	clock      *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, t.TempDir())
}

func newFixtureAt(t *testing.T, dir string) *fixture {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store, err := snapshot.NewStore(dir, "zstd")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	controller := mode.NewController(clk, nil)
	observer := perception.NewFakeObserver(clk.Now())
	backend := workspace.NewFake(
		schema.CursorPosition{X: 120, Y: 340},
		workspace.Window{ID: "W1", Title: "editor"},
		workspace.Application{Name: "editor", PID: 100},
	)
	tracker := authority.NewTracker(clk, 0)
	manager := snapshot.NewManager(snapshot.ManagerConfig{
		Mode:     controller,
		Observer: observer,
		Backend:  backend,
		Store:    store,
		Clock:    clk,
	})
	g := gate.New(gate.Config{
		Mode:      controller,
		Observer:  observer,
		Snapshots: manager,
		Store:     store,
		Clock:     clk,
	})
	restorer := restore.New(restore.Config{
		Mode:    controller,
		Backend: backend,
		Store:   store,
		Clock:   clk,
	})
	ledger := &memoryLedger{}
	recorder := verify.NewRecorder(store, ledger, map[string]string{"host": "testhost"}, clk, nil)
	verifier := verify.New(verify.Config{
		Mode:        controller,
		Backend:     backend,
		Tracker:     tracker,
		Store:       store,
		Recorder:    recorder,
		Ledger:      ledger,
		Clock:       clk,
		SettleDelay: -1,
	})
	rules, err := policy.ParseRules([]byte(`{
		// test policy
		"allowed_apps": ["editor"],
		"denied_roles": ["password"],
		"high_risk_labels": ["(?i)delete"],
	}`))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	sink := &fakeSink{}
	eng := New(Config{
		Gate:     g,
		Restorer: restorer,
		Verifier: verifier,
		Store:    store,
		Observer: observer,
		Tracker:  tracker,
		Policy:   policy.NewOracle(rules),
		Sink:     sink,
		Journal:  ledger,
		Clock:    clk,
	})
	return &fixture{
		engine:     eng,
		gate:       g,
		controller: controller,
		observer:   observer,
		backend:    backend,
		store:      store,
		sink:       sink,
		ledger:     ledger,
		clock:      clk,
	}
}

func clickEditor() Action {
	return Action{
		Kind:   "click",
		Target: policy.Target{App: "editor", Role: "button", Label: "Confirm"},
	}
}

func TestRunSessionNormalCompletion(t *testing.T) {
	f := newFixture(t)
	soc := socFunc(func(ctx context.Context, intent string, emit Emitter) error {
		return emit.EmitInput(ctx, clickEditor())
	})

	result, err := f.engine.RunSession(context.Background(), "press the confirm button", soc)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if !result.Verified {
		t.Fatalf("result not verified: %s", result.FailureReason)
	}
	if got := f.ledger.terminationMode(); got != string(schema.TerminationNormalCompletion) {
		t.Errorf("termination mode = %q, want NORMAL_COMPLETION", got)
	}
	if got := len(f.sink.injected()); got != 1 {
		t.Errorf("injected %d actions, want 1", got)
	}
	if f.controller.Current() != mode.Observer {
		t.Errorf("mode = %v, want Observer", f.controller.Current())
	}
	if halted, _ := f.controller.Halted(); halted {
		t.Error("machine halted after a clean session")
	}
	if _, err := f.store.ReadMarker(); !errors.Is(err, snapshot.ErrNoMarker) {
		t.Errorf("marker still present after verified session: %v", err)
	}

	want := []string{
		journal.KindSnapshot,
		journal.KindAdmitted,
		journal.KindIntent,
		journal.KindEffect,
		journal.KindTermination,
		journal.KindRestore,
		journal.KindVerified,
	}
	got := f.ledger.kinds()
	if len(got) != len(want) {
		t.Fatalf("journal kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("journal[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if len(f.ledger.sealed) != 1 {
		t.Errorf("sealed %d sessions, want 1", len(f.ledger.sealed))
	}
}

func TestRunSessionExecutionError(t *testing.T) {
	f := newFixture(t)
	soc := socFunc(func(ctx context.Context, intent string, emit Emitter) error {
		return errors.New("element not found")
	})

	result, err := f.engine.RunSession(context.Background(), "click something", soc)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if !result.Verified {
		t.Fatalf("result not verified: %s", result.FailureReason)
	}
	if got := f.ledger.terminationMode(); got != string(schema.TerminationExecutionError) {
		t.Errorf("termination mode = %q, want EXECUTION_ERROR", got)
	}
}

func TestRunSessionPanicIsProcessCrash(t *testing.T) {
	f := newFixture(t)
	soc := socFunc(func(ctx context.Context, intent string, emit Emitter) error {
		panic("nil map write")
	})

	result, err := f.engine.RunSession(context.Background(), "do the thing", soc)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if !result.Verified {
		t.Fatalf("result not verified: %s", result.FailureReason)
	}
	if got := f.ledger.terminationMode(); got != string(schema.TerminationProcessCrash) {
		t.Errorf("termination mode = %q, want PROCESS_CRASH", got)
	}
}

func TestRunSessionHumanAbort(t *testing.T) {
	f := newFixture(t)
	var yieldErr error
	soc := socFunc(func(ctx context.Context, intent string, emit Emitter) error {
		if err := emit.EmitInput(ctx, clickEditor()); err != nil {
			return err
		}
		if !f.engine.Abort("operator pressed stop") {
			t.Error("Abort returned false during a live session")
		}
		yieldErr = emit.EmitInput(ctx, clickEditor())
		return yieldErr
	})

	result, err := f.engine.RunSession(context.Background(), "fill the form", soc)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if !errors.Is(yieldErr, ErrYielded) {
		t.Errorf("post-abort emit error = %v, want ErrYielded", yieldErr)
	}
	if got := f.ledger.terminationMode(); got != string(schema.TerminationHumanAbort) {
		t.Errorf("termination mode = %q, want HUMAN_ABORT", got)
	}
	if !result.Verified {
		t.Fatalf("result not verified: %s", result.FailureReason)
	}
	if got := len(f.sink.injected()); got != 1 {
		t.Errorf("injected %d actions, want 1 (post-abort emission must be suppressed)", got)
	}
}

func TestRunSessionAuthorityYield(t *testing.T) {
	f := newFixture(t)
	soc := socFunc(func(ctx context.Context, intent string, emit Emitter) error {
		session, ok := f.gate.Active()
		if !ok {
			t.Error("no active session inside SOC")
			return nil
		}
		session.Latch().Trip(authority.YieldCause{
			Source: authority.HumanPhysical,
			At:     f.clock.Now(),
			Detail: "human input on keyboard",
		})
		return emit.EmitInput(context.Background(), clickEditor())
	})

	result, err := f.engine.RunSession(context.Background(), "type the report", soc)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if got := f.ledger.terminationMode(); got != string(schema.TerminationAuthorityYield) {
		t.Errorf("termination mode = %q, want AUTHORITY_YIELD", got)
	}
	if !result.Verified {
		t.Fatalf("result not verified: %s", result.FailureReason)
	}
	if got := len(f.sink.injected()); got != 0 {
		t.Errorf("injected %d actions after the latch tripped, want 0", got)
	}
}

func TestRunSessionVisionFailure(t *testing.T) {
	f := newFixture(t)
	soc := socFunc(func(ctx context.Context, intent string, emit Emitter) error {
		f.observer.SetFresh(false)
		return emit.EmitInput(ctx, clickEditor())
	})

	result, err := f.engine.RunSession(context.Background(), "read the dialog", soc)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if got := f.ledger.terminationMode(); got != string(schema.TerminationVisionFailure) {
		t.Errorf("termination mode = %q, want VISION_FAILURE", got)
	}
	if !result.Verified {
		t.Fatalf("result not verified: %s", result.FailureReason)
	}
	if got := len(f.sink.injected()); got != 0 {
		t.Errorf("injected %d actions against stale perception, want 0", got)
	}
}

func TestEmitPolicyEnforcement(t *testing.T) {
	f := newFixture(t)
	var deniedErr, confirmErr, unknownErr error
	soc := socFunc(func(ctx context.Context, intent string, emit Emitter) error {
		deniedErr = emit.EmitInput(ctx, Action{
			Kind:   "type",
			Target: policy.Target{App: "editor", Role: "password", Label: "Passphrase"},
		})
		confirmErr = emit.EmitInput(ctx, Action{
			Kind:   "click",
			Target: policy.Target{App: "editor", Role: "button", Label: "Delete all files"},
		})
		unknownErr = emit.EmitInput(ctx, Action{
			Kind:   "click",
			Target: policy.Target{App: "terminal", Role: "button", Label: "Run"},
		})
		return nil
	})

	if _, err := f.engine.RunSession(context.Background(), "careful work", soc); err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if !errors.Is(deniedErr, ErrPolicyDenied) {
		t.Errorf("password field emit error = %v, want ErrPolicyDenied", deniedErr)
	}
	if !errors.Is(confirmErr, ErrConfirmationRequired) {
		t.Errorf("high-risk emit error = %v, want ErrConfirmationRequired", confirmErr)
	}
	if !errors.Is(unknownErr, ErrPolicyDenied) {
		t.Errorf("unknown app emit error = %v, want ErrPolicyDenied", unknownErr)
	}
	if got := len(f.sink.injected()); got != 0 {
		t.Errorf("injected %d refused actions, want 0", got)
	}
}

func TestRunSessionDeniedWhileHalted(t *testing.T) {
	f := newFixture(t)
	f.controller.Halt("prior verification failure")

	soc := socFunc(func(ctx context.Context, intent string, emit Emitter) error {
		t.Error("SOC ran despite denial")
		return nil
	})
	_, err := f.engine.RunSession(context.Background(), "anything", soc)
	var denied *gate.Denied
	if !errors.As(err, &denied) {
		t.Fatalf("RunSession error = %v, want *gate.Denied", err)
	}
}

func TestAbortOutsideSession(t *testing.T) {
	f := newFixture(t)
	if f.engine.Abort("nothing to stop") {
		t.Error("Abort returned true with no session running")
	}
}

func TestRecoverStaleSession(t *testing.T) {
	dir := t.TempDir()

	// First process admits a session and then dies without restoring.
	crashed := newFixtureAt(t, dir)
	session, err := crashed.gate.Admit(context.Background(), "interrupted task")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	crashed.backend.AddWindow("W2")

	// A fresh process over the same state directory finds the marker.
	f := newFixtureAt(t, dir)
	result, err := f.engine.RecoverStaleSession(context.Background())
	if err != nil {
		t.Fatalf("RecoverStaleSession: %v", err)
	}
	if result == nil {
		t.Fatal("no recovery result despite a persisted marker")
	}
	if !result.Verified {
		t.Fatalf("recovery not verified: %s", result.FailureReason)
	}
	if result.SessionID != session.ID {
		t.Errorf("recovered session = %q, want %q", result.SessionID, session.ID)
	}
	if _, err := f.store.ReadMarker(); !errors.Is(err, snapshot.ErrNoMarker) {
		t.Errorf("marker still present after recovery: %v", err)
	}
	if got := f.ledger.terminationMode(); got != string(schema.TerminationForced) {
		t.Errorf("termination mode = %q, want FORCED_TERMINATION", got)
	}
	found := false
	for _, kind := range f.ledger.kinds() {
		if kind == journal.KindRecovery {
			found = true
		}
	}
	if !found {
		t.Error("crash recovery not journaled")
	}

	// The recovered workspace admits new sessions.
	if _, err := f.gate.Admit(context.Background(), "next task"); err != nil {
		t.Fatalf("Admit after recovery: %v", err)
	}
}

func TestRecoverRefusesLiveForeignProcess(t *testing.T) {
	f := newFixture(t)
	marker := &schema.SessionMarker{
		SessionID:  "sess-feedface00000000",
		Intent:     "held elsewhere",
		PID:        1,
		AdmittedAt: f.clock.Now().UnixMilli(),
	}
	if err := f.store.WriteMarker(marker); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}

	_, err := f.engine.RecoverStaleSession(context.Background())
	if err == nil || !strings.Contains(err.Error(), "live process") {
		t.Fatalf("RecoverStaleSession error = %v, want live-process refusal", err)
	}
}

func TestRecoverNoMarker(t *testing.T) {
	f := newFixture(t)
	result, err := f.engine.RecoverStaleSession(context.Background())
	if err != nil {
		t.Fatalf("RecoverStaleSession: %v", err)
	}
	if result != nil {
		t.Fatalf("recovery result = %+v, want nil with no marker", result)
	}
}

func TestRecoverOwnPIDProceeds(t *testing.T) {
	if os.Getpid() <= 0 {
		t.Skip("no pid")
	}
	if !pidAlive(os.Getpid()) {
		t.Error("pidAlive(self) = false")
	}
	if pidAlive(-1) {
		t.Error("pidAlive(-1) = true")
	}
}
