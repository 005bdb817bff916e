// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog provides the atomic heartbeat file shared by the
// authority daemon and its external supervisor.
//
// The daemon [Write]s a [Heartbeat] on a fixed interval; the
// warden-watchdog process [Check]s it alongside the control socket
// probe. The two signals separate three situations the supervisor must
// treat differently:
//
//   - socket responsive: daemon healthy, do nothing
//   - socket dead, heartbeat fresh: daemon busy or socket hiccup, wait
//   - socket dead, heartbeat stale: daemon dead; relaunch it, and the
//     new daemon's startup recovery settles any session marker left
//     behind
//
// The heartbeat file is written atomically (temporary file, fsync,
// rename, fsync parent directory) so readers never see a partial or
// corrupt record. It is advisory liveness data only: the authoritative
// record of an unfinished session is the session marker in the
// snapshot store, never the heartbeat.
//
// This package has no dependencies on other Warden packages.
package watchdog
