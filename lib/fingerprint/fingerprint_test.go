// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"os"
	"strconv"
	"testing"
)

func TestCollect(t *testing.T) {
	fp := Collect()

	if fp["pid"] != strconv.Itoa(os.Getpid()) {
		t.Errorf("pid = %q, want %d", fp["pid"], os.Getpid())
	}
	if fp["uid"] != strconv.Itoa(os.Getuid()) {
		t.Errorf("uid = %q, want %d", fp["uid"], os.Getuid())
	}
	if fp["sysname"] == "" {
		t.Error("sysname is empty")
	}
	if fp["release"] == "" {
		t.Error("release is empty")
	}
}

func TestCollectIsStable(t *testing.T) {
	first := Collect()
	second := Collect()
	if len(first) != len(second) {
		t.Fatalf("fingerprint changed between calls: %d vs %d keys", len(first), len(second))
	}
	for key, value := range first {
		if second[key] != value {
			t.Errorf("key %s changed: %q vs %q", key, value, second[key])
		}
	}
}
