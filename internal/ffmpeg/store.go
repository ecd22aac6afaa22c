package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// SegmentStore keeps produced segments on disk under one directory per
// session, with a sub-directory per variant label for adaptive sessions.
type SegmentStore struct {
	logger  hclog.Logger
	baseDir string
}

// NewSegmentStore creates a disk-backed segment store rooted at baseDir.
func NewSegmentStore(baseDir string, logger hclog.Logger) *SegmentStore {
	return &SegmentStore{
		logger:  logger.Named("segment-store"),
		baseDir: baseDir,
	}
}

// SessionDir returns the output directory for a session variant. The empty
// label addresses a single-variant session's directory.
func (s *SegmentStore) SessionDir(sessionID, variantLabel string) string {
	if variantLabel == "" {
		return filepath.Join(s.baseDir, sessionID)
	}
	return filepath.Join(s.baseDir, sessionID, variantLabel)
}

// ReadSegment returns the bytes of a named segment. The name is flattened
// to its base so callers cannot escape the session directory.
func (s *SegmentStore) ReadSegment(_ context.Context, sessionID, variantLabel, name string) ([]byte, error) {
	path := filepath.Join(s.SessionDir(sessionID, variantLabel), filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segment %s: %w", name, err)
	}
	return data, nil
}

// WaitForSegment blocks until the named segment exists, the timeout
// elapses, or ctx is cancelled. The encoder writes segments as it goes, so
// early segments of a fresh session may not exist yet when a client asks.
func (s *SegmentStore) WaitForSegment(ctx context.Context, sessionID, variantLabel, name string, timeout time.Duration) error {
	dir := s.SessionDir(sessionID, variantLabel)
	path := filepath.Join(dir, filepath.Base(name))

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// Re-check after the watch is in place; the segment may have landed in
	// between.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case event := <-watcher.Events:
			if event.Name == path && event.Op.Has(fsnotify.Create|fsnotify.Write) {
				return nil
			}
		case err := <-watcher.Errors:
			s.logger.Warn("segment watcher error", "session_id", sessionID, "error", err)
		case <-deadline.C:
			return fmt.Errorf("segment %s not produced within %s", name, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Remove deletes all stored output for a session.
func (s *SegmentStore) Remove(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(s.baseDir, sessionID))
}
