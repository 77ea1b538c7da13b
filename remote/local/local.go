// Package local implements remote.Session over a plain directory on the
// same host as the fetch worker (scheme "local" in SPEC_FULL.md §3's
// supplemented feature list), adapted from the teacher's backend/local
// open/seek/list idiom but trimmed to the five-operation remote.Session
// contract rather than rclone's full object-storage feature set.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/afdcore/afd/remote"
)

// Options configures one local-directory session.
type Options struct {
	Root string
}

// Session serves List/Probe/Fetch/Delete directly against os.
type Session struct {
	root string
	caps *remote.Capabilities
}

// Dial validates that root exists and is a directory.
func Dial(ctx context.Context, opt Options) (*Session, error) {
	info, err := os.Stat(opt.Root)
	if err != nil {
		return nil, fmt.Errorf("local: stat root %s: %w", opt.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local: root %s is not a directory", opt.Root)
	}
	return &Session{root: opt.Root, caps: remote.NewCapabilities()}, nil
}

// Capabilities returns the session's sticky DATE/SIZE support flags. A
// local filesystem always reports both, so they never flip false.
func (s *Session) Capabilities() *remote.Capabilities { return s.caps }

// List reads the root directory's regular files, following the teacher's
// Fs.List (backend/local/local.go) in skipping subdirectories: the fetch
// core pulls one flat directory per configured source, matching the
// remote-protocol sessions' own flat listing model.
func (s *Session) List(ctx context.Context) ([]remote.Entry, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("local: readdir %s: %w", s.root, err)
	}
	entries := make([]remote.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		entries = append(entries, remote.Entry{Name: de.Name()})
	}
	return entries, nil
}

// Probe stats name for size and mtime.
func (s *Session) Probe(ctx context.Context, name string) (remote.ProbeResult, error) {
	info, err := os.Stat(s.path(name))
	if err != nil {
		return remote.ProbeResult{Size: -1}, fmt.Errorf("local: stat %s: %w", name, err)
	}
	return remote.ProbeResult{
		Size:      info.Size(),
		SizeKnown: true,
		Mtime:     info.ModTime(),
		DateKnown: true,
	}, nil
}

// Fetch opens name and seeks to offset, mirroring the teacher's
// Object.Open Seek-after-Open idiom (backend/local/local.go).
func (s *Session) Fetch(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("local: open %s: %w", name, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("local: seek %s: %w", name, err)
		}
	}
	return f, nil
}

// Delete removes name from the root directory.
func (s *Session) Delete(ctx context.Context, name string) error {
	if err := os.Remove(s.path(name)); err != nil {
		return fmt.Errorf("local: remove %s: %w", name, err)
	}
	return nil
}

// Close is a no-op: there is no connection to tear down.
func (s *Session) Close() error { return nil }

func (s *Session) path(name string) string { return filepath.Join(s.root, name) }
