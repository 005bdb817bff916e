// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace defines the OS-facing backend interface Warden
// uses to observe and manipulate workspace state, plus a deterministic
// in-memory fake for tests.
//
// Warden itself contains no display-server code. A backend
// implementation (X11, Wayland portal, accessibility bridge) is
// supplied by the embedding process; the core only requires these
// narrow operations. Every method takes a context: restoration runs
// each OS query under a bounded deadline, and a backend must return
// the context error rather than block past it.
package workspace

import (
	"context"

	"github.com/bureau-foundation/warden/lib/schema"
)

// Window identifies a focused window as reported by the backend.
type Window struct {
	// ID is the backend-defined opaque window identifier.
	ID string

	// Title is the window title, best-effort.
	Title string
}

// Application is the best-effort identity of the foreground process.
type Application struct {
	// Name is the process name (e.g. "firefox").
	Name string

	// PID is the process ID, zero if unknown.
	PID int
}

// Backend is the complete set of workspace operations the core
// consumes. Read methods are pure observations; write methods are the
// only paths through which Warden ever touches the workspace, and all
// of them are reached exclusively from the restoration engine.
type Backend interface {
	// CursorPosition returns the current absolute cursor position.
	CursorPosition(ctx context.Context) (schema.CursorPosition, error)

	// FocusedWindow returns the window currently holding input
	// focus. An empty Window.ID with nil error means no window has
	// focus.
	FocusedWindow(ctx context.Context) (Window, error)

	// ActiveApplication returns the foreground application.
	ActiveApplication(ctx context.Context) (Application, error)

	// SetCursorPosition moves the cursor.
	SetCursorPosition(ctx context.Context, position schema.CursorPosition) error

	// FocusWindow gives input focus to the identified window.
	// Returns an error if the window no longer exists.
	FocusWindow(ctx context.Context, windowID string) error

	// ActivateApplication brings the named application to the
	// foreground, best-effort. PID may be zero.
	ActivateApplication(ctx context.Context, name string, pid int) error

	// CeaseAutomatedInput immediately stops all synthetic input
	// emission at the injection layer. Idempotent.
	CeaseAutomatedInput(ctx context.Context) error

	// EnableUserInput reasserts keyboard and mouse availability to
	// the human. Idempotent. Backends that never inhibit user input
	// return nil.
	EnableUserInput(ctx context.Context) error
}
