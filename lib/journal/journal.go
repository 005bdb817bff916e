// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal is Warden's append-only audit ledger.
//
// Every entry is bound to its predecessor by a keyed BLAKE3 hash over
// the canonical CBOR encoding, so the ledger forms a hash chain: an
// edited or deleted row breaks every hash after it. The chain covers
// the whole ledger, not one session, and survives process restarts.
//
// Intent entries carry an obligation: each one must be resolved by an
// effect entry before the session records another intent or seals.
// Violations and persistence failures fail closed — the caller halts
// rather than continuing with an unaccounted action.
package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/warden/lib/clock"
	"github.com/bureau-foundation/warden/lib/codec"
	"github.com/bureau-foundation/warden/lib/sqlitepool"
)

// Entry kinds. Intent and Effect participate in the binding rule;
// every other kind is a free-standing audit milestone.
const (
	KindIntent      = "intent"
	KindEffect      = "effect"
	KindSnapshot    = "snapshot_captured"
	KindAdmitted    = "session_admitted"
	KindYield       = "yield_requested"
	KindTermination = "session_terminated"
	KindRestore     = "restoration_result"
	KindVerified    = "restoration_verified"
	KindFailure     = "restoration_failure"
	KindRecovery    = "crash_recovery"
	KindSeal        = "session_sealed"
)

// ErrUnresolvedIntent is returned when an intent would be recorded (or
// the session sealed) while a previous intent has no matching effect.
var ErrUnresolvedIntent = errors.New("journal: unresolved intent")

// ErrNoOpenIntent is returned when an effect is recorded with no
// intent to resolve.
var ErrNoOpenIntent = errors.New("journal: effect without open intent")

// chainKey domain-separates the ledger chain from other keyed hashes.
var chainKey = func() []byte {
	key := make([]byte, 32)
	copy(key, "warden.journal.chain.v1")
	return key
}()

// genesisHash is the prev_hash of the first entry.
var genesisHash = make([]byte, 32)

// Entry is one ledger row.
type Entry struct {
	Seq        int64
	SessionID  string
	Kind       string
	Payload    []byte
	PrevHash   []byte
	EntryHash  []byte
	RecordedAt int64
}

// entryDigest is the canonical hashed shape of an entry. Field order
// is fixed by the deterministic encoder.
type entryDigest struct {
	Prev       []byte `cbor:"prev"`
	SessionID  string `cbor:"session_id"`
	Kind       string `cbor:"kind"`
	Payload    []byte `cbor:"payload"`
	RecordedAt int64  `cbor:"recorded_at"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS journal (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	payload     BLOB    NOT NULL,
	prev_hash   BLOB    NOT NULL,
	entry_hash  BLOB    NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS journal_session ON journal (session_id, seq);
`

// Config carries the journal's collaborators.
type Config struct {
	// Path is the SQLite database path.
	Path string

	// PoolSize follows sqlitepool.Config.
	PoolSize int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Journal is the ledger handle. Appends are serialized through the
// SQLite write lock; the in-memory chain head and intent obligations
// are rebuilt from the database on open, so restarts preserve both the
// chain and the binding rule.
type Journal struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger database.
func Open(cfg Config) (*Journal, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schemaSQL, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &Journal{pool: pool, clock: cfg.Clock, logger: logger}, nil
}

// Close closes the underlying pool.
func (j *Journal) Close() error { return j.pool.Close() }

// Record encodes the payload canonically and appends one entry. It
// satisfies the verify.Ledger interface.
func (j *Journal) Record(ctx context.Context, sessionID, kind string, payload any) error {
	_, err := j.Append(ctx, sessionID, kind, payload)
	return err
}

// Append appends one entry and returns its sequence number. Intent
// and effect entries are checked against the binding rule inside the
// same transaction that writes the row.
func (j *Journal) Append(ctx context.Context, sessionID, kind string, payload any) (int64, error) {
	if sessionID == "" {
		return 0, errors.New("journal: empty session ID")
	}
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("journal: encode payload: %w", err)
	}

	conn, err := j.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer j.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("journal: begin append: %w", err)
	}
	seq, err := j.appendLocked(conn, sessionID, kind, encoded)
	endTx(&err)
	if err != nil {
		return 0, err
	}
	j.logger.Debug("journal entry appended",
		"seq", seq, "session_id", sessionID, "kind", kind)
	return seq, nil
}

func (j *Journal) appendLocked(conn *sqlite.Conn, sessionID, kind string, payload []byte) (int64, error) {
	if kind == KindIntent || kind == KindSeal {
		open, err := hasOpenIntent(conn, sessionID)
		if err != nil {
			return 0, err
		}
		if open {
			return 0, fmt.Errorf("%w: session %s", ErrUnresolvedIntent, sessionID)
		}
	}
	if kind == KindEffect {
		open, err := hasOpenIntent(conn, sessionID)
		if err != nil {
			return 0, err
		}
		if !open {
			return 0, fmt.Errorf("%w: session %s", ErrNoOpenIntent, sessionID)
		}
	}

	prev, err := headHash(conn)
	if err != nil {
		return 0, err
	}
	recordedAt := j.clock.Now().UnixMilli()
	entryHash, err := hashEntry(prev, sessionID, kind, payload, recordedAt)
	if err != nil {
		return 0, err
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO journal (session_id, kind, payload, prev_hash, entry_hash, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID, kind, payload, prev, entryHash, recordedAt},
		})
	if err != nil {
		return 0, fmt.Errorf("journal: insert entry: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

// headHash returns the chain head, or the genesis hash for an empty
// ledger.
func headHash(conn *sqlite.Conn) ([]byte, error) {
	head := genesisHash
	err := sqlitex.Execute(conn,
		`SELECT entry_hash FROM journal ORDER BY seq DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				buf := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, buf)
				head = buf
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("journal: read chain head: %w", err)
	}
	return head, nil
}

// hasOpenIntent reports whether the session's most recent intent entry
// is newer than its most recent effect entry.
func hasOpenIntent(conn *sqlite.Conn, sessionID string) (bool, error) {
	var lastIntent, lastEffect int64
	err := sqlitex.Execute(conn,
		`SELECT kind, MAX(seq) FROM journal
		 WHERE session_id = ? AND kind IN (?, ?) GROUP BY kind`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID, KindIntent, KindEffect},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				switch stmt.ColumnText(0) {
				case KindIntent:
					lastIntent = stmt.ColumnInt64(1)
				case KindEffect:
					lastEffect = stmt.ColumnInt64(1)
				}
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("journal: scan intents: %w", err)
	}
	return lastIntent > lastEffect, nil
}

func hashEntry(prev []byte, sessionID, kind string, payload []byte, recordedAt int64) ([]byte, error) {
	canonical, err := codec.Marshal(entryDigest{
		Prev:       prev,
		SessionID:  sessionID,
		Kind:       kind,
		Payload:    payload,
		RecordedAt: recordedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("journal: encode digest: %w", err)
	}
	hasher, err := blake3.NewKeyed(chainKey)
	if err != nil {
		return nil, fmt.Errorf("journal: keyed hasher: %w", err)
	}
	hasher.Write(canonical)
	return hasher.Sum(nil), nil
}

// Seal closes out a session's ledger presence. It fails if the session
// still has an unresolved intent.
func (j *Journal) Seal(ctx context.Context, sessionID string) error {
	_, err := j.Append(ctx, sessionID, KindSeal, map[string]string{"session_id": sessionID})
	return err
}

// Entries returns a session's entries in sequence order. An empty
// session ID returns the whole ledger.
func (j *Journal) Entries(ctx context.Context, sessionID string) ([]Entry, error) {
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer j.pool.Put(conn)

	query := `SELECT seq, session_id, kind, payload, prev_hash, entry_hash, recorded_at
	          FROM journal ORDER BY seq`
	args := []any{}
	if sessionID != "" {
		query = `SELECT seq, session_id, kind, payload, prev_hash, entry_hash, recorded_at
		         FROM journal WHERE session_id = ? ORDER BY seq`
		args = []any{sessionID}
	}

	var entries []Entry
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args:       args,
		ResultFunc: func(stmt *sqlite.Stmt) error { entries = append(entries, scanEntry(stmt)); return nil },
	})
	if err != nil {
		return nil, fmt.Errorf("journal: list entries: %w", err)
	}
	return entries, nil
}

func scanEntry(stmt *sqlite.Stmt) Entry {
	entry := Entry{
		Seq:        stmt.ColumnInt64(0),
		SessionID:  stmt.ColumnText(1),
		Kind:       stmt.ColumnText(2),
		RecordedAt: stmt.ColumnInt64(6),
	}
	entry.Payload = make([]byte, stmt.ColumnLen(3))
	stmt.ColumnBytes(3, entry.Payload)
	entry.PrevHash = make([]byte, stmt.ColumnLen(4))
	stmt.ColumnBytes(4, entry.PrevHash)
	entry.EntryHash = make([]byte, stmt.ColumnLen(5))
	stmt.ColumnBytes(5, entry.EntryHash)
	return entry
}

// VerifyChain walks the full ledger recomputing every hash. It returns
// an error naming the first entry whose chain binding does not hold.
func (j *Journal) VerifyChain(ctx context.Context) error {
	entries, err := j.Entries(ctx, "")
	if err != nil {
		return err
	}
	prev := genesisHash
	for _, entry := range entries {
		if !bytes.Equal(entry.PrevHash, prev) {
			return fmt.Errorf("journal: entry %d prev_hash does not match chain head", entry.Seq)
		}
		want, err := hashEntry(entry.PrevHash, entry.SessionID, entry.Kind, entry.Payload, entry.RecordedAt)
		if err != nil {
			return err
		}
		if !bytes.Equal(entry.EntryHash, want) {
			return fmt.Errorf("journal: entry %d hash mismatch, ledger modified", entry.Seq)
		}
		prev = entry.EntryHash
	}
	return nil
}
