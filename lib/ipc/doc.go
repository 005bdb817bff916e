// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the control protocol spoken over the
// daemon's Unix socket. cmd/warden-daemon serves it; cmd/warden and
// cmd/warden-watchdog are clients. Frames are CBOR-encoded Request and
// Response values, one request and one response per connection.
package ipc
