// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides Warden's SQLite connection pool.
//
// The audit journal and the failure-artifact index live in SQLite. This
// package wraps zombiezen.com/go/sqlite with the pragmas that workload
// needs: WAL journal mode for concurrent readers, FULL synchronous
// because the ledger is evidence and a confirmed append must survive
// power loss, and a busy timeout so the CLI and the watchdog can read
// while the daemon writes.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use — each goroutine must hold its own connection for the
// duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging for concurrent readers and
//     a single writer. Reads never block writes; writes never block
//     reads.
//   - synchronous=FULL: a journal append that returned success is on
//     disk, across OS crashes and power failure. The ledger writes a
//     handful of rows per session; the fsync cost is irrelevant here.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately.
//   - foreign_keys=ON: artifact rows reference their journal entry.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:     "/var/lib/warden/journal.db",
//	    PoolSize: 4,
//	    Logger:   logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// # Design
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. There is no attempt
// to abstract away SQLite's connection model or invent a query builder.
// The journal writes SQL, uses sqlitex.Execute for cached statements,
// and manages transactions with sqlitex.ImmediateTransaction.
package sqlitepool
