// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/warden/lib/codec"
	"github.com/bureau-foundation/warden/lib/schema"
)

// Archive layout on disk:
//
//	[0:4]  magic "WAR1"
//	[4]    compression tag
//	[5:]   compressed canonical CBOR payload
//
// Every archive is written to a temporary file in the same directory,
// fsynced, and renamed into place. A reader never observes a partial
// archive.

var archiveMagic = []byte("WAR1")

// ErrNoMarker is returned by ReadMarker when no session marker exists,
// meaning the previous process exited through the normal restoration
// path.
var ErrNoMarker = errors.New("no session marker")

// ErrNotFound is returned when a snapshot or result archive does not
// exist under the state directory.
var ErrNotFound = errors.New("archive not found")

// Store persists snapshots, session markers, and restoration results
// as compressed CBOR archives under the state directory.
//
// Layout:
//
//	<dir>/snapshots/<snapshot-id>.snap
//	<dir>/results/<session-id>.res
//	<dir>/session.marker
type Store struct {
	dir         string
	compression CompressionTag
}

// NewStore opens (creating if needed) an archive store rooted at dir.
// The compression name follows warden.yaml ("none", "lz4", "zstd").
func NewStore(dir string, compression string) (*Store, error) {
	tag, err := ParseCompressionTag(compression)
	if err != nil {
		return nil, err
	}
	for _, sub := range []string{"", "snapshots", "results", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return &Store{dir: dir, compression: tag}, nil
}

// Dir returns the state directory root.
func (s *Store) Dir() string { return s.dir }

// WriteSnapshot archives a snapshot under its snapshot ID.
func (s *Store) WriteSnapshot(snap *schema.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return s.writeArchive(s.snapshotPath(snap.SnapshotID), snap)
}

// ReadSnapshot loads a snapshot archive by ID.
func (s *Store) ReadSnapshot(snapshotID string) (*schema.Snapshot, error) {
	var snap schema.Snapshot
	if err := s.readArchive(s.snapshotPath(snapshotID), &snap); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}
	return &snap, nil
}

// WriteMarker persists the session marker. The marker exists from
// gate admission until verified restoration; finding one at startup
// means the previous process died mid-session.
func (s *Store) WriteMarker(marker *schema.SessionMarker) error {
	return s.writeArchive(s.markerPath(), marker)
}

// ReadMarker loads the session marker, or ErrNoMarker when none
// exists.
func (s *Store) ReadMarker() (*schema.SessionMarker, error) {
	var marker schema.SessionMarker
	err := s.readArchive(s.markerPath(), &marker)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoMarker
	}
	if err != nil {
		return nil, err
	}
	return &marker, nil
}

// RemoveMarker deletes the session marker after verified restoration.
// Removing an absent marker is not an error.
func (s *Store) RemoveMarker() error {
	err := os.Remove(s.markerPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session marker: %w", err)
	}
	return nil
}

// WriteResult archives a restoration result under its session ID.
func (s *Store) WriteResult(result *schema.RestorationResult) error {
	if result.SessionID == "" {
		return errors.New("write result: empty session ID")
	}
	return s.writeArchive(s.resultPath(result.SessionID), result)
}

// ReadResult loads an archived restoration result by session ID.
func (s *Store) ReadResult(sessionID string) (*schema.RestorationResult, error) {
	var result schema.RestorationResult
	if err := s.readArchive(s.resultPath(sessionID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LatestResult returns the most recently written restoration result,
// or ErrNotFound when no session has completed yet.
func (s *Store) LatestResult() (*schema.RestorationResult, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "results"))
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	var latest *schema.RestorationResult
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == "" {
			continue
		}
		var result schema.RestorationResult
		if err := s.readArchive(filepath.Join(s.dir, "results", entry.Name()), &result); err != nil {
			continue
		}
		if latest == nil || result.Timestamp > latest.Timestamp {
			r := result
			latest = &r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// WriteArtifact persists a failure artifact under its session ID.
func (s *Store) WriteArtifact(artifact *schema.FailureArtifact) error {
	if artifact.SessionID == "" {
		return errors.New("write artifact: empty session ID")
	}
	return s.writeArchive(s.artifactPath(artifact.SessionID), artifact)
}

// ReadArtifact loads a failure artifact by session ID.
func (s *Store) ReadArtifact(sessionID string) (*schema.FailureArtifact, error) {
	var artifact schema.FailureArtifact
	if err := s.readArchive(s.artifactPath(sessionID), &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (s *Store) snapshotPath(id string) string {
	return filepath.Join(s.dir, "snapshots", id+".snap")
}

func (s *Store) resultPath(sessionID string) string {
	return filepath.Join(s.dir, "results", sessionID+".res")
}

func (s *Store) artifactPath(sessionID string) string {
	return filepath.Join(s.dir, "artifacts", sessionID+".fail")
}

func (s *Store) markerPath() string {
	return filepath.Join(s.dir, "session.marker")
}

func (s *Store) writeArchive(path string, value any) error {
	payload, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	compressed, err := compress(s.compression, payload)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Grow(len(archiveMagic) + 1 + len(compressed))
	buf.Write(archiveMagic)
	buf.WriteByte(byte(s.compression))
	buf.Write(compressed)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".archive-*")
	if err != nil {
		return fmt.Errorf("create archive temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename archive into place: %w", err)
	}
	return syncDir(dir)
}

func (s *Store) readArchive(path string, value any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	if len(raw) < len(archiveMagic)+1 || !bytes.Equal(raw[:len(archiveMagic)], archiveMagic) {
		return fmt.Errorf("%s: not a warden archive", path)
	}
	tag := CompressionTag(raw[len(archiveMagic)])
	payload, err := decompress(tag, raw[len(archiveMagic)+1:])
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := codec.Unmarshal(payload, value); err != nil {
		return fmt.Errorf("decode archive %s: %w", path, err)
	}
	return nil
}

func syncDir(dir string) error {
	handle, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory for sync: %w", err)
	}
	defer handle.Close()
	if err := handle.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}
