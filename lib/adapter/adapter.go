// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter is the client for the display adapter: the external
// process that owns all OS-level workspace access (cursor, focus,
// input injection, screen capture). The authority core never links
// display-server code; it speaks CBOR over the adapter's unix socket,
// one request per connection, and fails closed when the adapter is
// unreachable.
//
// One Client satisfies workspace.Backend, perception.Observer, and
// engine.InputSink, so the daemon wires a single adapter connection
// into every collaborator slot.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bureau-foundation/warden/lib/authority"
	"github.com/bureau-foundation/warden/lib/codec"
	"github.com/bureau-foundation/warden/lib/engine"
	"github.com/bureau-foundation/warden/lib/perception"
	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/workspace"
)

// DefaultCallTimeout bounds one adapter round trip. Workspace reads
// and writes are local IPC; anything slower than this is a wedged
// adapter, and the caller treats it as unverifiable.
const DefaultCallTimeout = 2 * time.Second

// Adapter operations.
const (
	opCursorPosition      = "cursor_position"
	opSetCursorPosition   = "set_cursor_position"
	opFocusedWindow       = "focused_window"
	opFocusWindow         = "focus_window"
	opActiveApplication   = "active_application"
	opActivateApplication = "activate_application"
	opCeaseInput          = "cease_automated_input"
	opEnableInput         = "enable_user_input"
	opCaptureState        = "capture_state"
	opFresh               = "fresh"
	opInject              = "inject"
	opInputEvents         = "input_events"
)

// request is one CBOR request frame to the adapter.
type request struct {
	Op       string                 `cbor:"op"`
	Position *schema.CursorPosition `cbor:"position,omitempty"`
	WindowID string                 `cbor:"window_id,omitempty"`
	App      string                 `cbor:"app,omitempty"`
	PID      int                    `cbor:"pid,omitempty"`
	Action   *engine.Action         `cbor:"action,omitempty"`
}

// response is one CBOR response frame from the adapter.
type response struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`

	Position  *schema.CursorPosition `cbor:"position,omitempty"`
	WindowID  string                 `cbor:"window_id,omitempty"`
	Title     string                 `cbor:"title,omitempty"`
	App       string                 `cbor:"app,omitempty"`
	PID       int                    `cbor:"pid,omitempty"`
	Fresh     bool                   `cbor:"fresh,omitempty"`
	FrameMS   int64                  `cbor:"frame_ms,omitempty"`
	TextHash  string                 `cbor:"text_hash,omitempty"`
	TextBlock []string               `cbor:"text_blocks,omitempty"`
}

// inputEvent is one raw input observation streamed by the adapter.
type inputEvent struct {
	AtMS   int64  `cbor:"at_ms"`
	Device string `cbor:"device"`
}

// Client talks to the display adapter. Safe for concurrent use; every
// call opens its own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
	logger     *slog.Logger
}

// Config configures a Client.
type Config struct {
	// SocketPath is the adapter's unix socket.
	SocketPath string

	// CallTimeout bounds one round trip. Zero selects
	// DefaultCallTimeout.
	CallTimeout time.Duration

	// Logger receives stream reconnect events. Nil discards.
	Logger *slog.Logger
}

// New returns a Client for the adapter at the given socket.
func New(cfg Config) *Client {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    timeout,
		logger:     logger,
	}
}

// call performs one request/response round trip.
func (c *Client) call(ctx context.Context, req request) (response, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return response{}, fmt.Errorf("dial adapter: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return response{}, fmt.Errorf("set deadline: %w", err)
	}

	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return response{}, fmt.Errorf("send %s: %w", req.Op, err)
	}
	var resp response
	if err := codec.NewDecoder(conn).Decode(&resp); err != nil {
		return response{}, fmt.Errorf("read %s response: %w", req.Op, err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("adapter %s: %s", req.Op, resp.Error)
	}
	return resp, nil
}

// CursorPosition implements workspace.Backend.
func (c *Client) CursorPosition(ctx context.Context) (schema.CursorPosition, error) {
	resp, err := c.call(ctx, request{Op: opCursorPosition})
	if err != nil {
		return schema.CursorPosition{}, err
	}
	if resp.Position == nil {
		return schema.CursorPosition{}, errors.New("adapter returned no cursor position")
	}
	return *resp.Position, nil
}

// FocusedWindow implements workspace.Backend. An empty window ID with
// nil error means nothing holds focus.
func (c *Client) FocusedWindow(ctx context.Context) (workspace.Window, error) {
	resp, err := c.call(ctx, request{Op: opFocusedWindow})
	if err != nil {
		return workspace.Window{}, err
	}
	return workspace.Window{ID: resp.WindowID, Title: resp.Title}, nil
}

// ActiveApplication implements workspace.Backend.
func (c *Client) ActiveApplication(ctx context.Context) (workspace.Application, error) {
	resp, err := c.call(ctx, request{Op: opActiveApplication})
	if err != nil {
		return workspace.Application{}, err
	}
	return workspace.Application{Name: resp.App, PID: resp.PID}, nil
}

// SetCursorPosition implements workspace.Backend.
func (c *Client) SetCursorPosition(ctx context.Context, position schema.CursorPosition) error {
	_, err := c.call(ctx, request{Op: opSetCursorPosition, Position: &position})
	return err
}

// FocusWindow implements workspace.Backend.
func (c *Client) FocusWindow(ctx context.Context, windowID string) error {
	_, err := c.call(ctx, request{Op: opFocusWindow, WindowID: windowID})
	return err
}

// ActivateApplication implements workspace.Backend.
func (c *Client) ActivateApplication(ctx context.Context, name string, pid int) error {
	_, err := c.call(ctx, request{Op: opActivateApplication, App: name, PID: pid})
	return err
}

// CeaseAutomatedInput implements workspace.Backend.
func (c *Client) CeaseAutomatedInput(ctx context.Context) error {
	_, err := c.call(ctx, request{Op: opCeaseInput})
	return err
}

// EnableUserInput implements workspace.Backend.
func (c *Client) EnableUserInput(ctx context.Context) error {
	_, err := c.call(ctx, request{Op: opEnableInput})
	return err
}

// CaptureState implements perception.Observer.
func (c *Client) CaptureState(ctx context.Context) (perception.WorkspaceState, error) {
	resp, err := c.call(ctx, request{Op: opCaptureState})
	if err != nil {
		return perception.WorkspaceState{}, err
	}
	return perception.WorkspaceState{
		FrameTimestamp: time.UnixMilli(resp.FrameMS),
		ScreenTextHash: resp.TextHash,
		TextBlocks:     resp.TextBlock,
	}, nil
}

// Fresh implements perception.Observer. An unreachable adapter is
// stale perception, not an error.
func (c *Client) Fresh() bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	resp, err := c.call(ctx, request{Op: opFresh})
	if err != nil {
		return false
	}
	return resp.Fresh
}

// Inject implements engine.InputSink.
func (c *Client) Inject(ctx context.Context, action engine.Action) error {
	_, err := c.call(ctx, request{Op: opInject, Action: &action})
	return err
}

// streamBackoff is the delay between input-stream reconnect attempts.
const streamBackoff = time.Second

// StreamInput subscribes to the adapter's raw input event stream and
// delivers each observation to fn until ctx is canceled. Reconnects
// on stream failure: a gap in input observation is stale perception
// territory, so the gap is logged, never hidden.
func (c *Client) StreamInput(ctx context.Context, fn func(authority.InputObservation)) {
	for ctx.Err() == nil {
		if err := c.streamOnce(ctx, fn); err != nil && ctx.Err() == nil {
			c.logger.Warn("input event stream lost", "error", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(streamBackoff):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, fn func(authority.InputObservation)) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial adapter: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := codec.NewEncoder(conn).Encode(request{Op: opInputEvents}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	decoder := codec.NewDecoder(conn)
	for {
		var event inputEvent
		if err := decoder.Decode(&event); err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		fn(authority.InputObservation{
			At:     time.UnixMilli(event.AtMS),
			Device: event.Device,
		})
	}
}
