// Package snapshot captures and restores the pristine content of a single
// file. A Snapshot is the unit of rollback for one issue: capture is the
// acquire, Restore is the guaranteed release.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/zeebo/blake3"

	"github.com/jxucoder/refactorgen/patch"
)

// ErrIO is wrapped by every snapshot read/write failure.
var ErrIO = errors.New("snapshot i/o failure")

// Snapshot holds the pristine bytes of one file.
type Snapshot struct {
	path     string
	content  []byte
	mode     fs.FileMode
	digest   [32]byte
	dirty    bool
	restored bool
}

// Capture reads path and returns a snapshot of its content. It must be called
// before any write to path.
func Capture(path string) (*Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrIO, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrIO, path, err)
	}
	return &Snapshot{
		path:    path,
		content: content,
		mode:    info.Mode().Perm(),
		digest:  blake3.Sum256(content),
	}, nil
}

// Content returns the pristine content as a string.
func (s *Snapshot) Content() string { return string(s.content) }

// Write replaces the file content with a candidate and marks the snapshot
// dirty, so Restore knows the file has to be rewritten.
func (s *Snapshot) Write(content string) error {
	if s.restored {
		return fmt.Errorf("%w: write to %s after restore", ErrIO, s.path)
	}
	s.dirty = true
	if err := patch.Write(s.path, content); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Restore writes the pristine content back if the file was written through
// this snapshot, then verifies the on-disk digest. Only the first call does
// any work.
func (s *Snapshot) Restore() error {
	if s.restored {
		return nil
	}
	s.restored = true
	if !s.dirty {
		return nil
	}
	if err := os.WriteFile(s.path, s.content, s.mode); err != nil {
		return fmt.Errorf("%w: restoring %s: %v", ErrIO, s.path, err)
	}
	return s.Verify()
}

// Verify checks that the file on disk matches the pristine content.
func (s *Snapshot) Verify() error {
	onDisk, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: verifying %s: %v", ErrIO, s.path, err)
	}
	if blake3.Sum256(onDisk) != s.digest || !bytes.Equal(onDisk, s.content) {
		return fmt.Errorf("%w: %s does not match its snapshot", ErrIO, s.path)
	}
	return nil
}

// Guard captures path, runs fn with the snapshot and restores on every exit
// path. A panic inside fn is re-raised after the restore.
func Guard(path string, fn func(*Snapshot) error) (err error) {
	snap, err := Capture(path)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := snap.Restore(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn(snap)
}
