// Package capturestore provides durable persistence for capture.SessionRecord,
// grounded on the teacher's atomic-write-plus-flock state store: write to a
// temp file, fsync, rename over the target, with a cross-process flock and a
// .bak copy of whatever was there before.
package capturestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/wiretap-mcp/wiretap/internal/domain/capture"
	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
)

// FileCapture persists one session's capture.SessionRecord as a single
// JSON file at path.
type FileCapture struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileCapture creates a FileCapture writing to path.
func NewFileCapture(path string, logger *slog.Logger) *FileCapture {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileCapture{path: path, logger: logger}
}

// Save persists record atomically: tmp file, fsync, rename, with the
// previous file copied to path+".bak" first.
func (f *FileCapture) Save(record capture.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create session directory: %w", err)
		}
	}

	lockPath := f.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if current, readErr := os.ReadFile(f.path); readErr == nil {
		if writeErr := os.WriteFile(f.path+".bak", current, 0600); writeErr != nil {
			f.logger.Warn("failed to write session backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	data = append(data, '\n')

	tmpPath := f.path + ".tmp"
	tf, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = tf.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := tf.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tf.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tf.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to session file: %w", err)
	}
	if err := os.Chmod(f.path, 0600); err != nil {
		f.logger.Warn("failed to set permissions on session file", "error", err)
	}
	return nil
}

// Load reads and validates the session file at path. A missing file is
// not an error: it returns ok=false so the caller starts a fresh session.
// A present-but-structurally-invalid file fails with proxy.CorruptSession.
func (f *FileCapture) Load() (capture.SessionRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return capture.SessionRecord{}, false, nil
		}
		return capture.SessionRecord{}, false, fmt.Errorf("read session file: %w", err)
	}

	var record capture.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return capture.SessionRecord{}, false, &proxy.CorruptSession{Path: f.path, Reason: err.Error()}
	}
	if reason := record.Validate(); reason != "" {
		return capture.SessionRecord{}, false, &proxy.CorruptSession{Path: f.path, Reason: reason}
	}
	return record, true, nil
}

// Path returns the configured file path.
func (f *FileCapture) Path() string { return f.path }
