// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the shared data types exchanged between Warden
// components: snapshots, execution sessions, restoration results, and
// failure artifacts.
//
// These types are the contract between the writers (snapshot manager,
// restoration engine, failure recorder) and the readers (verifier,
// watchdog, CLI, audit journal). They live here so that both sides agree
// on field names and serialization tags. Every persisted type carries
// both JSON tags (the external interchange format) and CBOR tags (the
// on-disk archive and IPC format).
//
// Types in this package hold no behavior beyond validation. OS access,
// capture, and restoration logic live in their own packages.
package schema
