// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Warden-watchdog supervises the authority daemon from outside its
// process boundary. The daemon guarantees restoration after every
// termination it survives; this process covers the one class it
// cannot: the daemon itself dying mid-session. The watchdog polls the
// daemon's control socket, and when the daemon is unreachable while a
// session marker exists on disk, it relaunches the daemon, whose
// startup recovery restores the workspace before anything else runs.
//
// The watchdog holds no workspace authority of its own. It never
// touches the display; its entire repertoire is "start the daemon
// again".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bureau-foundation/warden/lib/config"
	"github.com/bureau-foundation/warden/lib/ipc"
	"github.com/bureau-foundation/warden/lib/process"
	"github.com/bureau-foundation/warden/lib/snapshot"
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
		configPath   string
		daemonBinary string
		pollInterval time.Duration
		showVersion  bool
	)
	flag.StringVar(&configPath, "config", "", "path to warden.yaml (default: $WARDEN_CONFIG)")
	flag.StringVar(&daemonBinary, "daemon-binary", "warden-daemon", "path to the daemon binary")
	flag.DurationVar(&pollInterval, "poll-interval", 2*time.Second, "how often to check daemon liveness")
	var heartbeatMaxAge time.Duration
	flag.DurationVar(&heartbeatMaxAge, "heartbeat-max-age", 10*time.Second, "heartbeat staleness bound before the daemon counts as dead")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("warden-watchdog %s\n", version.Info())
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

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &supervisor{
		config:          cfg,
		configPath:      configPath,
		daemonBinary:    daemonBinary,
		logger:          logger,
		heartbeatMaxAge: heartbeatMaxAge,
	}
	store, err := snapshot.NewStore(cfg.Paths.State, cfg.Snapshot.Compression)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	w.store = store

	logger.Info("watchdog running",
		"socket", cfg.Paths.Socket,
		"interval", pollInterval,
		"version", version.Info(),
	)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

type supervisor struct {
	config       config.Config
	configPath   string
	daemonBinary string
	logger       *slog.Logger
	store        *snapshot.Store

	// heartbeatMaxAge is how stale the daemon's heartbeat file may
	// be before the daemon counts as dead.
	heartbeatMaxAge time.Duration

	// lastLaunch rate-limits relaunches so a crash-looping daemon
	// does not fork storm.
	lastLaunch time.Time
}

// relaunchCooldown is the minimum gap between daemon launches.
const relaunchCooldown = 10 * time.Second

// check probes the daemon once and relaunches it if it is dead while
// restoration work is pending.
func (w *supervisor) check(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := ipc.Call(callCtx, w.config.Paths.Socket, ipc.Request{Action: ipc.ActionStatus})
	if err == nil && resp.OK {
		// Healthy. Nothing to do; the daemon owns its own sessions.
		return
	}

	// Socket dead. The heartbeat file separates a wedged socket from
	// a dead process: a fresh heartbeat means the daemon is alive and
	// busy, and relaunching under it would violate the one-authority
	// invariant.
	heartbeatPath := filepath.Join(w.config.Paths.State, "heartbeat.json")
	beat, alive, beatErr := watchdog.Check(heartbeatPath, w.heartbeatMaxAge)
	if beatErr != nil {
		w.logger.Error("heartbeat unreadable", "error", beatErr)
		return
	}
	if alive {
		w.logger.Warn("daemon socket unresponsive but heartbeat fresh, waiting",
			"pid", beat.PID, "mode", beat.Mode)
		return
	}

	marker, markerErr := w.store.ReadMarker()
	if errors.Is(markerErr, snapshot.ErrNoMarker) {
		// Dead daemon, clean workspace. Still relaunch so the
		// control surface comes back, but there is no urgency and
		// no restoration debt.
		w.relaunch(ctx, "daemon unreachable")
		return
	}
	if markerErr != nil {
		w.logger.Error("session marker unreadable", "error", markerErr)
		return
	}

	w.logger.Warn("daemon dead with live session",
		"session", marker.SessionID,
		"daemon_pid", marker.PID,
	)
	w.relaunch(ctx, "restoration pending for session "+marker.SessionID)
}

func (w *supervisor) relaunch(_ context.Context, reason string) {
	if time.Since(w.lastLaunch) < relaunchCooldown {
		return
	}
	w.lastLaunch = time.Now()

	args := []string{}
	if w.configPath != "" {
		args = append(args, "--config", w.configPath)
	}
	// Plain Command, not CommandContext: the daemon must outlive a
	// watchdog restart.
	cmd := exec.Command(w.daemonBinary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		w.logger.Error("daemon relaunch failed", "error", err)
		return
	}
	w.logger.Info("daemon relaunched", "pid", cmd.Process.Pid, "reason", reason)
	// The daemon daemonizes into its own session; reap it in the
	// background so it never zombies under the watchdog.
	go cmd.Wait()
}
