// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, "environment: development\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Authority.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval = %v, want 50ms", cfg.Authority.PollInterval)
	}
	if cfg.Verify.CursorTolerancePx != 2 {
		t.Errorf("CursorTolerancePx = %d, want 2", cfg.Verify.CursorTolerancePx)
	}
	if cfg.Snapshot.Compression != "zstd" {
		t.Errorf("Compression = %q, want zstd", cfg.Snapshot.Compression)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
paths:
  state: /var/lib/warden
authority:
  poll_interval: 25ms
production:
  verify:
    cursor_tolerance_px: 0
    settle_delay: 100ms
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Authority.PollInterval != 25*time.Millisecond {
		t.Errorf("PollInterval = %v, want 25ms", cfg.Authority.PollInterval)
	}
	if cfg.Verify.CursorTolerancePx != 0 {
		t.Errorf("CursorTolerancePx = %d, want 0 (production override)", cfg.Verify.CursorTolerancePx)
	}
	if cfg.Verify.SettleDelay != 100*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 100ms", cfg.Verify.SettleDelay)
	}
	if cfg.Paths.State != "/var/lib/warden" {
		t.Errorf("Paths.State = %q", cfg.Paths.State)
	}
}

func TestOverridesIgnoredForOtherEnvironment(t *testing.T) {
	path := writeConfig(t, `
environment: development
production:
  verify:
    cursor_tolerance_px: 50
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Verify.CursorTolerancePx != 2 {
		t.Errorf("CursorTolerancePx = %d, want default 2", cfg.Verify.CursorTolerancePx)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad compression", "snapshot:\n  compression: gzip\n", "compression"},
		{"zero poll interval", "authority:\n  poll_interval: 0s\n  attribution_window: 200ms\n", "poll_interval"},
		{"negative tolerance", "verify:\n  cursor_tolerance_px: -1\n", "cursor_tolerance_px"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeConfig(t, test.content)
			_, err := LoadFile(path)
			if err == nil {
				t.Fatal("LoadFile() = nil error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error = %q, want substring %q", err, test.wantErr)
			}
		})
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("WARDEN_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Error("Load() succeeded without WARDEN_CONFIG")
	}
}
