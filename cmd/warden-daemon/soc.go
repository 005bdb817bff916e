// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/bureau-foundation/warden/lib/codec"
	"github.com/bureau-foundation/warden/lib/engine"
)

// remoteSOC drives one session against the external execution service.
// The protocol is a single connection per session: the daemon sends
// the intent, then the service streams action frames; the daemon
// answers each with an ack after pushing it through the emitter, so
// the service observes yields and policy denials synchronously. A
// frame with Done set ends the session.
//
// The service holds no authority: an action it sends is a proposal,
// and the ack tells it whether the authority core actually emitted it.
type remoteSOC struct {
	socketPath string
}

func newRemoteSOC(socketPath string) *remoteSOC {
	return &remoteSOC{socketPath: socketPath}
}

// socFrame is one frame from the execution service.
type socFrame struct {
	// Action is the proposed workspace action. Nil on the final
	// frame.
	Action *engine.Action `cbor:"action,omitempty"`

	// Done ends the session. Error carries the service's failure
	// description, empty for normal completion.
	Done  bool   `cbor:"done,omitempty"`
	Error string `cbor:"error,omitempty"`
}

// socAck answers one action frame.
type socAck struct {
	// Emitted reports whether the input reached the workspace.
	Emitted bool `cbor:"emitted"`

	// Refusal classifies a non-emission: "yielded", "denied",
	// "confirmation_required", or "error".
	Refusal string `cbor:"refusal,omitempty"`
	Detail  string `cbor:"detail,omitempty"`
}

// intentFrame opens the session.
type intentFrame struct {
	Intent string `cbor:"intent"`
}

func (s *remoteSOC) Execute(ctx context.Context, intent string, emit engine.Emitter) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("dial execution service: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	encoder := codec.NewEncoder(conn)
	decoder := codec.NewDecoder(conn)
	if err := encoder.Encode(intentFrame{Intent: intent}); err != nil {
		return fmt.Errorf("send intent: %w", err)
	}

	for {
		var frame socFrame
		if err := decoder.Decode(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return errors.New("execution service closed the stream without a done frame")
			}
			return fmt.Errorf("read action frame: %w", err)
		}
		if frame.Done {
			if frame.Error != "" {
				return errors.New(frame.Error)
			}
			return nil
		}
		if frame.Action == nil {
			return errors.New("action frame without action")
		}

		ack := socAck{Emitted: true}
		emitErr := emit.EmitInput(ctx, *frame.Action)
		switch {
		case emitErr == nil:
		case errors.Is(emitErr, engine.ErrYielded):
			ack = socAck{Refusal: "yielded", Detail: emitErr.Error()}
		case errors.Is(emitErr, engine.ErrPolicyDenied):
			ack = socAck{Refusal: "denied", Detail: emitErr.Error()}
		case errors.Is(emitErr, engine.ErrConfirmationRequired):
			ack = socAck{Refusal: "confirmation_required", Detail: emitErr.Error()}
		default:
			ack = socAck{Refusal: "error", Detail: emitErr.Error()}
		}
		if err := encoder.Encode(ack); err != nil {
			return fmt.Errorf("send ack: %w", err)
		}

		// Once the session has yielded there is nothing more the
		// service can do; end the SOC loop so termination maps to
		// the yield cause.
		if errors.Is(emitErr, engine.ErrYielded) {
			return emitErr
		}
	}
}
