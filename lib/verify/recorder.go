// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/warden/lib/clock"
	"github.com/bureau-foundation/warden/lib/gate"
	"github.com/bureau-foundation/warden/lib/schema"
	"github.com/bureau-foundation/warden/lib/snapshot"
)

// Ledger is the audit sink the recorder and verifier write through.
// The journal package provides the production implementation.
type Ledger interface {
	// Record appends one audit entry. An append failure is a
	// persistence fault the caller must treat as fail-closed.
	Record(ctx context.Context, sessionID, kind string, payload any) error
}

// Recorder persists failure artifacts. An artifact is never silently
// dropped: a persistence failure is returned to the caller, which
// halts regardless.
type Recorder struct {
	store       *snapshot.Store
	ledger      Ledger
	fingerprint map[string]string
	clock       clock.Clock
	logger      *slog.Logger
}

// NewRecorder constructs a Recorder. The fingerprint is the read-only
// host fingerprint bound into each artifact; ledger may be nil in
// tests.
func NewRecorder(store *snapshot.Store, ledger Ledger, fingerprint map[string]string, clk clock.Clock, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:       store,
		ledger:      ledger,
		fingerprint: fingerprint,
		clock:       clk,
		logger:      logger,
	}
}

// Record persists the failure artifact for an unverified restoration.
func (r *Recorder) Record(ctx context.Context, session *gate.Session, result *schema.RestorationResult) (*schema.FailureArtifact, error) {
	artifact := &schema.FailureArtifact{
		SessionID:   session.ID,
		Snapshot:    *session.Snapshot,
		Result:      *result,
		Fingerprint: r.fingerprint,
		RecordedAt:  r.clock.Now().UnixMilli(),
	}
	if err := r.store.WriteArtifact(artifact); err != nil {
		return nil, fmt.Errorf("persist failure artifact: %w", err)
	}
	if r.ledger != nil {
		if err := r.ledger.Record(ctx, session.ID, "restoration_failure", artifact); err != nil {
			return nil, fmt.Errorf("journal failure artifact: %w", err)
		}
	}
	r.logger.Error("restoration failure recorded",
		"session_id", session.ID,
		"snapshot_id", session.Snapshot.SnapshotID,
		"failure_reason", string(result.FailureReason))
	return artifact, nil
}
