// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/warden/lib/schema"
)

// NewFake returns a Fake backend with the given initial state. The
// window list is seeded with the focused window so FocusWindow calls
// against the initial state succeed.
func NewFake(cursor schema.CursorPosition, focused Window, app Application) *Fake {
	fake := &Fake{
		cursor:       cursor,
		focused:      focused,
		app:          app,
		windows:      map[string]bool{},
		failures:     map[string]error{},
		inputEnabled: true,
	}
	if focused.ID != "" {
		fake.windows[focused.ID] = true
	}
	return fake
}

// Fake is a deterministic in-memory Backend for tests. State mutates
// exactly as the real operations would; tests inspect it directly or
// perturb it between phases to simulate what an execution run or a
// human did to the workspace.
//
// Fake is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	cursor  schema.CursorPosition
	focused Window
	app     Application

	// windows is the set of window IDs that exist. FocusWindow
	// fails for IDs outside the set.
	windows map[string]bool

	// failures maps operation names ("CursorPosition", "FocusWindow",
	// …) to injected errors. An injected error is returned on every
	// call until cleared.
	failures map[string]error

	inputEnabled   bool
	automationLive bool

	// Calls records operation names in invocation order.
	Calls []string
}

func (f *Fake) record(op string) error {
	f.Calls = append(f.Calls, op)
	if err := f.failures[op]; err != nil {
		return err
	}
	return nil
}

// FailWith injects an error for the named operation. Pass nil to
// clear.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// AddWindow registers a window ID so FocusWindow can succeed for it.
func (f *Fake) AddWindow(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[id] = true
}

// RemoveWindow deregisters a window, simulating it closing. If it held
// focus, focus becomes empty.
func (f *Fake) RemoveWindow(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, id)
	if f.focused.ID == id {
		f.focused = Window{}
	}
}

// SetState overwrites cursor, focus, and application in one call,
// simulating workspace churn during execution.
func (f *Fake) SetState(cursor schema.CursorPosition, focused Window, app Application) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = cursor
	f.focused = focused
	f.app = app
	if focused.ID != "" {
		f.windows[focused.ID] = true
	}
}

// SetAutomationLive marks synthetic input as flowing, so tests can
// assert CeaseAutomatedInput actually stopped it.
func (f *Fake) SetAutomationLive(live bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.automationLive = live
}

// AutomationLive reports whether synthetic input is still flowing.
func (f *Fake) AutomationLive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.automationLive
}

// InputEnabled reports whether user input is available.
func (f *Fake) InputEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputEnabled
}

// SetInputEnabled simulates an execution engine that inhibited user
// input.
func (f *Fake) SetInputEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputEnabled = enabled
}

func (f *Fake) CursorPosition(ctx context.Context) (schema.CursorPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CursorPosition"); err != nil {
		return schema.CursorPosition{}, err
	}
	return f.cursor, nil
}

func (f *Fake) FocusedWindow(ctx context.Context) (Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FocusedWindow"); err != nil {
		return Window{}, err
	}
	return f.focused, nil
}

func (f *Fake) ActiveApplication(ctx context.Context) (Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ActiveApplication"); err != nil {
		return Application{}, err
	}
	return f.app, nil
}

func (f *Fake) SetCursorPosition(ctx context.Context, position schema.CursorPosition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetCursorPosition"); err != nil {
		return err
	}
	f.cursor = position
	return nil
}

func (f *Fake) FocusWindow(ctx context.Context, windowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FocusWindow"); err != nil {
		return err
	}
	if !f.windows[windowID] {
		return fmt.Errorf("window %q does not exist", windowID)
	}
	f.focused = Window{ID: windowID}
	return nil
}

func (f *Fake) ActivateApplication(ctx context.Context, name string, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ActivateApplication"); err != nil {
		return err
	}
	f.app = Application{Name: name, PID: pid}
	return nil
}

func (f *Fake) CeaseAutomatedInput(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CeaseAutomatedInput"); err != nil {
		return err
	}
	f.automationLive = false
	return nil
}

func (f *Fake) EnableUserInput(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("EnableUserInput"); err != nil {
		return err
	}
	f.inputEnabled = true
	return nil
}
