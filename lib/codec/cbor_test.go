// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/bureau-foundation/warden/lib/schema"
)

func TestDeterministicEncoding(t *testing.T) {
	snapshot := schema.Snapshot{
		SnapshotID:    "snap-det",
		Timestamp:     1700000000000,
		Cursor:        schema.CursorPosition{X: 120, Y: 340},
		FocusedWindow: "W1",
		ActiveApp:     "editor",
		ExecutionMode: schema.ExecutionModeObserver,
		Metadata: map[string]any{
			"frame_ts":         int64(1700000000123),
			"screen_text_hash": "abc123",
		},
	}

	first, err := Marshal(&snapshot)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	second, err := Marshal(&snapshot)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same snapshot produced different encodings")
	}

	var decoded schema.Snapshot
	if err := Unmarshal(first, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded.SnapshotID != snapshot.SnapshotID || decoded.Cursor != snapshot.Cursor {
		t.Errorf("round-trip mismatch: got %+v", decoded)
	}
}

func TestDefaultMapType(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded = %T, want map[string]any", decoded)
	}
	if _, ok := outer["nested"].(map[string]any); !ok {
		t.Errorf("nested = %T, want map[string]any", outer["nested"])
	}
}

func TestStreamEncoder(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf)
	for i := 0; i < 3; i++ {
		if err := encoder.Encode(schema.CursorPosition{X: i, Y: i * 2}); err != nil {
			t.Fatalf("Encode() error: %v", err)
		}
	}

	decoder := NewDecoder(&buf)
	for i := 0; i < 3; i++ {
		var cursor schema.CursorPosition
		if err := decoder.Decode(&cursor); err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
		if cursor.X != i || cursor.Y != i*2 {
			t.Errorf("item %d = %+v", i, cursor)
		}
	}
}
