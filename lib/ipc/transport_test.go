// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/testutil"
)

func startServer(t *testing.T, handler Handler) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	server, err := Listen(socketPath, handler, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return socketPath
}

func TestCallRoundTrip(t *testing.T) {
	socketPath := startServer(t, func(ctx context.Context, req Request) Response {
		if req.Action != ActionStatus {
			return Response{Error: "unexpected action " + req.Action}
		}
		return Response{
			OK: true,
			Status: &Status{
				State:           "OBSERVER",
				PerceptionFresh: true,
				PID:             4242,
			},
		}
	})

	resp, err := Call(context.Background(), socketPath, Request{Action: ActionStatus})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK {
		t.Fatalf("response not OK: %s", resp.Error)
	}
	if resp.Status == nil || resp.Status.State != "OBSERVER" || resp.Status.PID != 4242 {
		t.Errorf("status = %+v", resp.Status)
	}
}

func TestCallCarriesResult(t *testing.T) {
	want := &schema.RestorationResult{
		SessionID:            "sess-1",
		SnapshotID:           "snap-1",
		RestorationAttempted: true,
		Verified:             true,
		Steps: map[schema.RestoreStep]schema.StepOutcome{
			schema.StepCursor: schema.OutcomeApplied,
		},
		Timestamp: 12345,
	}
	socketPath := startServer(t, func(ctx context.Context, req Request) Response {
		if req.SessionID != "sess-1" {
			return Response{Error: "wrong session"}
		}
		return Response{OK: true, Result: want, SessionID: "sess-1"}
	})

	resp, err := Call(context.Background(), socketPath,
		Request{Action: ActionResult, SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK {
		t.Fatalf("response not OK: %s", resp.Error)
	}
	if resp.Result.SnapshotID != "snap-1" || !resp.Result.Verified {
		t.Errorf("result = %+v", resp.Result)
	}
	if got := resp.Result.Steps[schema.StepCursor]; got != schema.OutcomeApplied {
		t.Errorf("cursor step = %s, want %s", got, schema.OutcomeApplied)
	}
}

func TestCallErrorResponse(t *testing.T) {
	socketPath := startServer(t, func(ctx context.Context, req Request) Response {
		return Response{Error: "halted: verification failed"}
	})

	resp, err := Call(context.Background(), socketPath, Request{Action: ActionIntent, Intent: "x"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.OK {
		t.Error("response OK, want error")
	}
	if resp.Error != "halted: verification failed" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestCallAgainstDeadSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "absent.sock")
	if _, err := Call(context.Background(), socketPath, Request{Action: ActionStatus}); err == nil {
		t.Fatal("Call against a missing socket succeeded")
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	socketPath := startServer(t, func(ctx context.Context, req Request) Response {
		return Response{OK: true}
	})

	// A second daemon taking over must replace the socket file.
	server, err := Listen(socketPath, func(ctx context.Context, req Request) Response {
		return Response{OK: true}
	}, nil)
	if err != nil {
		t.Fatalf("Listen over existing socket: %v", err)
	}
	server.Close()
}
