// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Warden is the operator CLI for the execution authority daemon.
//
// Usage:
//
//	warden status                      current mode and halt state
//	warden intent <text>               run one execution session
//	warden result [session-id]         show a restoration result
//	warden abort [detail]              abort the active session
//	warden clear-halt --intent <text>  clear the halt latch
//	warden fingerprint                 show the daemon's host fingerprint
//
// All commands talk CBOR to the daemon's control socket (--socket, or
// the paths.socket value from $WARDEN_CONFIG).
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warden/lib/config"
	"github.com/bureau-foundation/warden/lib/ipc"
	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("no command provided")
	}

	switch args[0] {
	case "--help", "help", "-h":
		printUsage()
		return nil
	case "--version", "version":
		fmt.Printf("warden %s\n", version.Info())
		return nil
	}

	command, args := args[0], args[1:]
	flags := pflag.NewFlagSet(command, pflag.ContinueOnError)
	socketPath := flags.String("socket", "", "daemon control socket (default: paths.socket from $WARDEN_CONFIG)")
	clearIntent := flags.String("intent", "", "explicit intent for clear-halt")
	if err := flags.Parse(args); err != nil {
		return err
	}

	socket, err := resolveSocket(*socketPath)
	if err != nil {
		return err
	}

	switch command {
	case "status":
		return statusCmd(socket)
	case "intent":
		text := strings.Join(flags.Args(), " ")
		if text == "" {
			return fmt.Errorf("usage: warden intent <text>")
		}
		return intentCmd(socket, text)
	case "result":
		sessionID := ""
		if flags.NArg() > 0 {
			sessionID = flags.Arg(0)
		}
		return resultCmd(socket, sessionID)
	case "abort":
		return abortCmd(socket, strings.Join(flags.Args(), " "))
	case "clear-halt":
		if *clearIntent == "" {
			return fmt.Errorf("clear-halt requires --intent explaining why the halt is safe to clear")
		}
		return clearHaltCmd(socket, *clearIntent)
	case "fingerprint":
		return fingerprintCmd(socket)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func resolveSocket(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if os.Getenv("WARDEN_CONFIG") != "" {
		cfg, err := config.Load()
		if err != nil {
			return "", err
		}
		return cfg.Paths.Socket, nil
	}
	return config.Default().Paths.Socket, nil
}

func call(socket string, req ipc.Request, timeout time.Duration) (ipc.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := ipc.Call(ctx, socket, req)
	if err != nil {
		return resp, fmt.Errorf("daemon at %s: %w", socket, err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func statusCmd(socket string) error {
	resp, err := call(socket, ipc.Request{Action: ipc.ActionStatus}, 5*time.Second)
	if err != nil {
		return err
	}
	printStatus(resp.Status)
	return nil
}

func printStatus(status *ipc.Status) {
	fmt.Printf("mode:       %s\n", status.State)
	if status.Halted {
		fmt.Printf("halted:     yes (%s)\n", status.HaltReason)
	} else {
		fmt.Printf("halted:     no\n")
	}
	if status.ActiveSession != "" {
		fmt.Printf("session:    %s\n", status.ActiveSession)
	}
	fmt.Printf("perception: %s\n", freshness(status.PerceptionFresh))
	fmt.Printf("pid:        %d\n", status.PID)
	fmt.Printf("mode held:  %s\n", time.Duration(status.UptimeMS)*time.Millisecond)
}

func freshness(fresh bool) string {
	if fresh {
		return "fresh"
	}
	return "stale"
}

func intentCmd(socket, text string) error {
	// Sessions block until restoration and verification finish; give
	// them the transport's full window.
	resp, err := call(socket, ipc.Request{Action: ipc.ActionIntent, Intent: text}, ipc.DefaultCallTimeout)
	if err != nil {
		return err
	}
	fmt.Printf("session %s\n", resp.SessionID)
	printResult(resp.Result)
	return nil
}

func resultCmd(socket, sessionID string) error {
	resp, err := call(socket, ipc.Request{Action: ipc.ActionResult, SessionID: sessionID}, 5*time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("session %s\n", resp.SessionID)
	printResult(resp.Result)
	return nil
}

func printResult(result *schema.RestorationResult) {
	if result == nil {
		return
	}
	if result.Verified {
		fmt.Printf("restoration: verified\n")
	} else {
		fmt.Printf("restoration: FAILED (%s)\n", result.FailureReason)
	}
	steps := make([]string, 0, len(result.Steps))
	for step := range result.Steps {
		steps = append(steps, string(step))
	}
	sort.Strings(steps)
	for _, step := range steps {
		fmt.Printf("  %-22s %s\n", step, result.Steps[schema.RestoreStep(step)])
	}
}

func abortCmd(socket, detail string) error {
	resp, err := call(socket, ipc.Request{Action: ipc.ActionAbort, Intent: detail}, 5*time.Second)
	if err != nil {
		return err
	}
	fmt.Println("abort requested")
	printStatus(resp.Status)
	return nil
}

func clearHaltCmd(socket, intent string) error {
	resp, err := call(socket, ipc.Request{Action: ipc.ActionClearHalt, Intent: intent}, 5*time.Second)
	if err != nil {
		return err
	}
	fmt.Println("halt cleared")
	printStatus(resp.Status)
	return nil
}

func fingerprintCmd(socket string) error {
	resp, err := call(socket, ipc.Request{Action: ipc.ActionFingerprint}, 5*time.Second)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(resp.Fingerprint))
	for key := range resp.Fingerprint {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%-24s %s\n", key, resp.Fingerprint[key])
	}
	return nil
}

func printUsage() {
	fmt.Println(`warden - execution authority control

usage:
  warden status                      current mode and halt state
  warden intent <text>               run one execution session
  warden result [session-id]         show a restoration result
  warden abort [detail]              abort the active session
  warden clear-halt --intent <text>  clear the halt latch
  warden fingerprint                 show the daemon's host fingerprint

flags:
  --socket <path>   daemon control socket`)
}
