// Package state provides the file-backed durable mirror of impersonation
// records. The mirror is the process-restart analog of the dashboard's
// client-side storage: a best-effort copy under a single fixed key that
// survives until the authoritative store can be re-read. It is never the
// source of truth.
//
// Writes are atomic (write-tmp-then-rename), fsynced, 0600, and guarded by
// both an in-process mutex and a cross-process flock.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/zapgate/zapgate/internal/domain/impersonation"
)

// mirrorFile is the on-disk document: all mirrored impersonation records,
// keyed by operator ID, under a schema version for forward compatibility.
type mirrorFile struct {
	Version   string                            `json:"version"`
	Records   map[string]*impersonation.Session `json:"records"`
	UpdatedAt time.Time                         `json:"updated_at"`
}

// FileMirror implements impersonation.Mirror on a single JSON file.
type FileMirror struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileMirror creates a FileMirror persisting to path.
func NewFileMirror(path string, logger *slog.Logger) *FileMirror {
	return &FileMirror{
		path:   path,
		logger: logger.With("component", "impersonation_mirror"),
	}
}

// Load returns the mirrored session for the operator. A missing file, a
// corrupt file, or an absent record all report ok=false; corruption is
// logged but not fatal since the mirror is best-effort by contract.
func (m *FileMirror) Load(operatorID string) (*impersonation.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.read()
	if err != nil {
		return nil, false, err
	}
	sess, ok := doc.Records[operatorID]
	if !ok {
		return nil, false, nil
	}
	cp := *sess
	return &cp, true, nil
}

// Store writes the mirrored session for its operator.
func (m *FileMirror) Store(sess *impersonation.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.read()
	if err != nil {
		return err
	}
	cp := *sess
	doc.Records[sess.OperatorID] = &cp
	return m.write(doc)
}

// Clear removes the operator's mirrored session. Clearing an absent
// record is a no-op.
func (m *FileMirror) Clear(operatorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Records[operatorID]; !ok {
		return nil
	}
	delete(doc.Records, operatorID)
	return m.write(doc)
}

// read parses the mirror file. Missing or corrupt files yield an empty
// document: the mirror must degrade to "nothing mirrored", never block
// the overlay.
func (m *FileMirror) read() (*mirrorFile, error) {
	empty := &mirrorFile{Version: "1", Records: make(map[string]*impersonation.Session)}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return nil, fmt.Errorf("read mirror file: %w", err)
	}

	// Warn if the file is readable by group/other; it names tenants.
	// Skip on Windows where Unix permission bits are not supported.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(m.path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				m.logger.Warn("mirror file has too-open permissions, should be 0600",
					"path", m.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var doc mirrorFile
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.Warn("mirror file corrupt, discarding", "path", m.path, "error", err)
		return empty, nil
	}
	if doc.Records == nil {
		doc.Records = make(map[string]*impersonation.Session)
	}
	return &doc, nil
}

// write persists the document atomically under a cross-process flock.
//
// The sequence is: flock path+".lock", marshal indented JSON, write to
// path+".tmp" with 0600, fsync, rename over path, unlock.
func (m *FileMirror) write(doc *mirrorFile) error {
	doc.UpdatedAt = time.Now().UTC()

	lockPath := m.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mirror: %w", err)
	}
	data = append(data, '\n')

	return m.writeAtomic(data)
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// the target path. On any error the temp file is cleaned up.
func (m *FileMirror) writeAtomic(data []byte) error {
	tmpPath := m.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to mirror: %w", err)
	}
	return nil
}

// Path returns the configured file path.
func (m *FileMirror) Path() string {
	return m.path
}

// Compile-time interface verification.
var _ impersonation.Mirror = (*FileMirror)(nil)
