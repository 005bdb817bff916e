// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/warden/lib/authority"
	"github.com/bureau-foundation/warden/lib/codec"
	"github.com/bureau-foundation/warden/lib/engine"
	"github.com/bureau-foundation/warden/lib/perception"
	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/testutil"
	"github.com/bureau-foundation/warden/lib/workspace"
)

var (
	_ workspace.Backend   = (*Client)(nil)
	_ perception.Observer = (*Client)(nil)
	_ engine.InputSink    = (*Client)(nil)
)

// fakeAdapter serves the adapter protocol from in-memory state.
type fakeAdapter struct {
	listener net.Listener

	mu       sync.Mutex
	cursor   schema.CursorPosition
	focused  string
	injected []engine.Action
	events   []inputEvent
}

func startFakeAdapter(t *testing.T) (*fakeAdapter, string) {
	t.Helper()
	path := filepath.Join(testutil.SocketDir(t), "adapter.sock")
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	a := &fakeAdapter{
		listener: listener,
		cursor:   schema.CursorPosition{X: 120, Y: 340},
		focused:  "W1",
	}
	go a.serve()
	return a, path
}

func (a *fakeAdapter) serve() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			return
		}
		go a.handle(conn)
	}
}

func (a *fakeAdapter) handle(conn net.Conn) {
	defer conn.Close()
	var req request
	if err := codec.NewDecoder(conn).Decode(&req); err != nil {
		return
	}
	encoder := codec.NewEncoder(conn)

	a.mu.Lock()
	defer a.mu.Unlock()
	switch req.Op {
	case opCursorPosition:
		encoder.Encode(response{OK: true, Position: &a.cursor})
	case opSetCursorPosition:
		a.cursor = *req.Position
		encoder.Encode(response{OK: true})
	case opFocusedWindow:
		encoder.Encode(response{OK: true, WindowID: a.focused, Title: "editor"})
	case opFocusWindow:
		if req.WindowID == "gone" {
			encoder.Encode(response{Error: "window not found"})
			return
		}
		a.focused = req.WindowID
		encoder.Encode(response{OK: true})
	case opActiveApplication:
		encoder.Encode(response{OK: true, App: "editor", PID: 100})
	case opFresh:
		encoder.Encode(response{OK: true, Fresh: true})
	case opCaptureState:
		encoder.Encode(response{
			OK:       true,
			FrameMS:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli(),
			TextHash: "abc123",
		})
	case opInject:
		a.injected = append(a.injected, *req.Action)
		encoder.Encode(response{OK: true})
	case opInputEvents:
		events := a.events
		a.mu.Unlock()
		for _, event := range events {
			if err := encoder.Encode(event); err != nil {
				break
			}
		}
		// Hold the stream open until the client hangs up.
		var discard request
		codec.NewDecoder(conn).Decode(&discard)
		a.mu.Lock()
	default:
		encoder.Encode(response{Error: "unknown op " + req.Op})
	}
}

func TestReadOperations(t *testing.T) {
	_, path := startFakeAdapter(t)
	client := New(Config{SocketPath: path})
	ctx := context.Background()

	cursor, err := client.CursorPosition(ctx)
	if err != nil {
		t.Fatalf("CursorPosition: %v", err)
	}
	if cursor.X != 120 || cursor.Y != 340 {
		t.Errorf("cursor = %+v, want (120, 340)", cursor)
	}

	window, err := client.FocusedWindow(ctx)
	if err != nil {
		t.Fatalf("FocusedWindow: %v", err)
	}
	if window.ID != "W1" || window.Title != "editor" {
		t.Errorf("window = %+v, want W1/editor", window)
	}

	app, err := client.ActiveApplication(ctx)
	if err != nil {
		t.Fatalf("ActiveApplication: %v", err)
	}
	if app.Name != "editor" || app.PID != 100 {
		t.Errorf("app = %+v, want editor/100", app)
	}

	state, err := client.CaptureState(ctx)
	if err != nil {
		t.Fatalf("CaptureState: %v", err)
	}
	if state.ScreenTextHash != "abc123" {
		t.Errorf("screen text hash = %q, want abc123", state.ScreenTextHash)
	}
	if state.FrameTimestamp.IsZero() {
		t.Error("frame timestamp is zero")
	}
	if !client.Fresh() {
		t.Error("Fresh() = false against a live adapter")
	}
}

func TestWriteOperations(t *testing.T) {
	fake, path := startFakeAdapter(t)
	client := New(Config{SocketPath: path})
	ctx := context.Background()

	if err := client.SetCursorPosition(ctx, schema.CursorPosition{X: 7, Y: 9}); err != nil {
		t.Fatalf("SetCursorPosition: %v", err)
	}
	if err := client.FocusWindow(ctx, "W2"); err != nil {
		t.Fatalf("FocusWindow: %v", err)
	}
	fake.mu.Lock()
	cursor, focused := fake.cursor, fake.focused
	fake.mu.Unlock()
	if cursor.X != 7 || cursor.Y != 9 {
		t.Errorf("adapter cursor = %+v, want (7, 9)", cursor)
	}
	if focused != "W2" {
		t.Errorf("adapter focus = %q, want W2", focused)
	}

	if err := client.FocusWindow(ctx, "gone"); err == nil {
		t.Error("FocusWindow(gone) succeeded, want adapter error")
	}

	action := engine.Action{Kind: "click"}
	if err := client.Inject(ctx, action); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	fake.mu.Lock()
	injected := len(fake.injected)
	fake.mu.Unlock()
	if injected != 1 {
		t.Errorf("adapter received %d injections, want 1", injected)
	}
}

func TestFreshFailsClosedWhenUnreachable(t *testing.T) {
	client := New(Config{
		SocketPath:  filepath.Join(testutil.SocketDir(t), "nobody.sock"),
		CallTimeout: 100 * time.Millisecond,
	})
	if client.Fresh() {
		t.Error("Fresh() = true against a dead adapter")
	}
	if err := client.CeaseAutomatedInput(context.Background()); err == nil {
		t.Error("CeaseAutomatedInput succeeded against a dead adapter")
	}
}

func TestStreamInput(t *testing.T) {
	fake, path := startFakeAdapter(t)
	fake.mu.Lock()
	fake.events = []inputEvent{
		{AtMS: 1000, Device: "keyboard"},
		{AtMS: 1010, Device: "mouse"},
	}
	fake.mu.Unlock()

	client := New(Config{SocketPath: path})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan authority.InputObservation, 2)
	go client.StreamInput(ctx, func(obs authority.InputObservation) {
		received <- obs
	})

	first := testutil.RequireReceive(t, received, 5*time.Second, "first input observation")
	if first.Device != "keyboard" {
		t.Errorf("first device = %q, want keyboard", first.Device)
	}
	second := testutil.RequireReceive(t, received, 5*time.Second, "second input observation")
	if second.At.UnixMilli() != 1010 {
		t.Errorf("second at = %d, want 1010", second.At.UnixMilli())
	}
}
