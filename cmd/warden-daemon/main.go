// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Warden-daemon is the execution authority process. It owns the mode
// state machine, the execution gate, the restoration engine, and the
// audit journal for one workspace, and exposes a CBOR control socket
// for the CLI and the watchdog.
//
// The daemon never touches the display server directly. OS-level
// workspace access (cursor, focus, capture, input injection) lives in
// the display adapter process, reached over its unix socket; the task
// logic lives in the execution service (SOC), reached over another.
// This process carries only authority: it decides whether input may be
// emitted and proves the workspace was returned to the human.
//
// On startup:
//  1. Loads configuration (--config or WARDEN_CONFIG).
//  2. Opens the snapshot store and the hash-chained journal.
//  3. Recovers any session marker left by a dead predecessor,
//     restoring the workspace before anything else is allowed.
//  4. Subscribes to the adapter's raw input event stream.
//  5. Serves the control socket until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bureau-foundation/warden/lib/adapter"
	"github.com/bureau-foundation/warden/lib/authority"
	"github.com/bureau-foundation/warden/lib/clock"
	"github.com/bureau-foundation/warden/lib/config"
	"github.com/bureau-foundation/warden/lib/engine"
	"github.com/bureau-foundation/warden/lib/fingerprint"
	"github.com/bureau-foundation/warden/lib/gate"
	"github.com/bureau-foundation/warden/lib/ipc"
	"github.com/bureau-foundation/warden/lib/journal"
	"github.com/bureau-foundation/warden/lib/mode"
	"github.com/bureau-foundation/warden/lib/perception"
	"github.com/bureau-foundation/warden/lib/policy"
	"github.com/bureau-foundation/warden/lib/process"
	"github.com/bureau-foundation/warden/lib/restore"
	"github.com/bureau-foundation/warden/lib/snapshot"
	"github.com/bureau-foundation/warden/lib/verify"
	"github.com/bureau-foundation/warden/lib/version"
	"github.com/bureau-foundation/warden/lib/watchdog"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to warden.yaml (default: $WARDEN_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("warden-daemon %s\n", version.Info())
		return nil
	}

	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer daemon.journal.Close()

	// Restore the workspace left behind by a dead predecessor before
	// touching anything else. A failure here halts the machine; the
	// daemon still serves status so an operator can inspect it.
	if result, err := daemon.engine.RecoverStaleSession(ctx); err != nil {
		logger.Error("startup recovery failed", "error", err)
	} else if result != nil {
		logger.Info("recovered stale session",
			"session", result.SessionID,
			"verified", result.Verified,
		)
	}

	go daemon.adapter.StreamInput(ctx, daemon.engine.ObserveInput)
	go daemon.heartbeatLoop(ctx)

	server, err := ipc.Listen(cfg.Paths.Socket, daemon.handle, logger)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	logger.Info("warden daemon ready",
		"socket", cfg.Paths.Socket,
		"adapter", cfg.Paths.AdapterSocket,
		"state", cfg.Paths.State,
		"version", version.Info(),
	)
	return server.Serve(ctx)
}

// daemon holds the wired authority core.
type daemon struct {
	config     config.Config
	logger     *slog.Logger
	controller *mode.Controller
	observer   *adapter.Client
	adapter    *adapter.Client
	store      *snapshot.Store
	gate       *gate.Gate
	engine     *engine.Engine
	journal    *journal.Journal
	startedAt  time.Time
}

func newDaemon(cfg config.Config, logger *slog.Logger) (*daemon, error) {
	clk := clock.Real()

	store, err := snapshot.NewStore(cfg.Paths.State, cfg.Snapshot.Compression)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	jrnl, err := journal.Open(journal.Config{
		Path:   filepath.Join(cfg.Paths.State, "journal.db"),
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if err := jrnl.VerifyChain(context.Background()); err != nil {
		jrnl.Close()
		return nil, fmt.Errorf("journal chain verification: %w", err)
	}

	client := adapter.New(adapter.Config{
		SocketPath: cfg.Paths.AdapterSocket,
		Logger:     logger,
	})
	controller := mode.NewController(clk, logger)
	health := perception.NewHealth(clk, cfg.Perception.StaleLimit, cfg.Perception.UnstableLimit)
	tracker := authority.NewTracker(clk, cfg.Authority.AttributionWindow)
	manager := snapshot.NewManager(snapshot.ManagerConfig{
		Mode:     controller,
		Observer: client,
		Backend:  client,
		Store:    store,
		Health:   health,
		Clock:    clk,
		Logger:   logger,
	})
	g := gate.New(gate.Config{
		Mode:      controller,
		Observer:  client,
		Snapshots: manager,
		Store:     store,
		Clock:     clk,
		Logger:    logger,
	})
	restorer := restore.New(restore.Config{
		Mode:        controller,
		Backend:     client,
		Store:       store,
		Clock:       clk,
		Logger:      logger,
		StepTimeout: cfg.Restore.StepTimeout,
	})
	recorder := verify.NewRecorder(store, jrnl, fingerprint.Collect(), clk, logger)
	verifier := verify.New(verify.Config{
		Mode:              controller,
		Backend:           client,
		Tracker:           tracker,
		Store:             store,
		Recorder:          recorder,
		Ledger:            jrnl,
		Clock:             clk,
		Logger:            logger,
		CursorTolerancePx: cfg.Verify.CursorTolerancePx,
		SettleDelay:       cfg.Verify.SettleDelay,
	})

	var rules *policy.Rules
	if cfg.Paths.PolicyFile != "" {
		rules, err = policy.LoadRules(cfg.Paths.PolicyFile)
		if err != nil {
			jrnl.Close()
			return nil, err
		}
	} else {
		// No policy file means no allowed applications: every SOC
		// action is denied until the operator writes a policy.
		logger.Warn("no policy file configured, all actions will be denied")
	}

	eng := engine.New(engine.Config{
		Gate:         g,
		Restorer:     restorer,
		Verifier:     verifier,
		Store:        store,
		Observer:     client,
		Tracker:      tracker,
		Policy:       policy.NewOracle(rules),
		Sink:         client,
		Journal:      jrnl,
		Clock:        clk,
		Logger:       logger,
		PollInterval: cfg.Authority.PollInterval,
	})

	return &daemon{
		config:     cfg,
		logger:     logger,
		controller: controller,
		observer:   client,
		adapter:    client,
		store:      store,
		gate:       g,
		engine:     eng,
		journal:    jrnl,
		startedAt:  clk.Now(),
	}, nil
}

func (d *daemon) handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Action {
	case ipc.ActionStatus:
		return ipc.Response{OK: true, Status: d.status()}

	case ipc.ActionIntent:
		if req.Intent == "" {
			return ipc.Response{Error: "intent text required"}
		}
		soc := newRemoteSOC(d.config.Paths.SOCSocket)
		result, err := d.engine.RunSession(ctx, req.Intent, soc)
		if err != nil {
			return ipc.Response{Error: err.Error(), Result: result}
		}
		return ipc.Response{OK: true, Result: result, SessionID: result.SessionID}

	case ipc.ActionResult:
		result, err := d.store.LatestResult()
		if req.SessionID != "" {
			result, err = d.store.ReadResult(req.SessionID)
		}
		if err != nil {
			return ipc.Response{Error: err.Error()}
		}
		return ipc.Response{OK: true, Result: result, SessionID: result.SessionID}

	case ipc.ActionClearHalt:
		if req.Intent == "" {
			return ipc.Response{Error: "clear-halt requires an explicit intent"}
		}
		if err := d.controller.ClearHalt(req.Intent); err != nil {
			return ipc.Response{Error: err.Error()}
		}
		return ipc.Response{OK: true, Status: d.status()}

	case ipc.ActionAbort:
		detail := req.Intent
		if detail == "" {
			detail = "operator abort"
		}
		if !d.engine.Abort(detail) {
			return ipc.Response{Error: "no active session"}
		}
		return ipc.Response{OK: true, Status: d.status()}

	case ipc.ActionFingerprint:
		return ipc.Response{OK: true, Fingerprint: fingerprint.Collect()}

	default:
		return ipc.Response{Error: "unknown action " + req.Action}
	}
}

// heartbeatInterval is how often the daemon rewrites its liveness
// record for the external watchdog.
const heartbeatInterval = 2 * time.Second

func (d *daemon) heartbeatLoop(ctx context.Context) {
	path := filepath.Join(d.config.Paths.State, "heartbeat.json")
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		beat := watchdog.Heartbeat{
			PID:       os.Getpid(),
			Mode:      string(d.controller.Current()),
			Timestamp: time.Now(),
		}
		beat.Halted, _ = d.controller.Halted()
		if session, ok := d.gate.Active(); ok {
			beat.ActiveSession = session.ID
		}
		if err := watchdog.Write(path, beat); err != nil {
			d.logger.Error("heartbeat write failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *daemon) status() *ipc.Status {
	status := &ipc.Status{
		State:           string(d.controller.Current()),
		PerceptionFresh: d.observer.Fresh(),
		PID:             os.Getpid(),
		UptimeMS:        d.controller.Uptime().Milliseconds(),
	}
	status.Halted, status.HaltReason = d.controller.Halted()
	if session, ok := d.gate.Active(); ok {
		status.ActiveSession = session.ID
	}
	return status
}
