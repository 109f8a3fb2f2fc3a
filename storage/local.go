package storage

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Local is a Storage implementation backed by a single directory on the
// local filesystem, with an optional byte quota.
type Local struct {
	root  string
	quota uint64
}

// NewLocal creates a Local storage rooted at dir. The directory is
// created if it does not exist. A quota of 0 disables space accounting.
func NewLocal(dir string, quota uint64) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewLocal",
		"root":     dir,
		"quota":    quota,
	}).Info("Local storage initialized")

	return &Local{root: dir, quota: quota}, nil
}

// resolve maps a peer-supplied name to a path under the storage root.
// Names are flattened into the root; traversal components are rejected.
func (l *Local) resolve(name string) (string, error) {
	cleaned := filepath.Clean(strings.TrimPrefix(name, "/"))
	if cleaned == "." || cleaned == "" {
		return "", ErrDirectoryTraversal
	}
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}
	return filepath.Join(l.root, cleaned), nil
}

// used sums the sizes of all regular files under the root.
func (l *Local) used() uint64 {
	var total uint64
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += uint64(info.Size())
	}
	return total
}

// Exists reports whether name resolves to a stored file.
func (l *Local) Exists(name string) bool {
	path, err := l.resolve(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FreeBytes returns the remaining quota, or an effectively unlimited
// value when no quota is configured.
func (l *Local) FreeBytes() uint64 {
	if l.quota == 0 {
		return math.MaxUint64
	}
	used := l.used()
	if used >= l.quota {
		return 0
	}
	return l.quota - used
}

// OpenWrite opens a truncating write handle for name.
func (l *Local) OpenWrite(name string) (Handle, error) {
	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OpenWrite",
			"name":     name,
			"error":    err.Error(),
		}).Error("Failed to open file for writing")
		return nil, err
	}

	return &localHandle{file: f}, nil
}

// OpenRead opens name for sequential reading.
func (l *Local) OpenRead(name string) (Handle, error) {
	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OpenRead",
			"name":     name,
			"error":    err.Error(),
		}).Error("Failed to open file for reading")
		return nil, err
	}

	return &localHandle{file: f}, nil
}

// Remove deletes the named file.
func (l *Local) Remove(name string) bool {
	path, err := l.resolve(name)
	if err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Remove",
			"name":     name,
			"error":    err.Error(),
		}).Warn("Failed to remove file")
		return false
	}
	return true
}

// List enumerates stored files in lexical order.
func (l *Local) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: entry.Name(), Size: uint64(info.Size())})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// localHandle wraps an *os.File as a Handle.
type localHandle struct {
	file *os.File
}

func (h *localHandle) Write(p []byte) (int, error) { return h.file.Write(p) }

func (h *localHandle) Read(p []byte) (int, error) { return h.file.Read(p) }

func (h *localHandle) Size() uint64 {
	info, err := h.file.Stat()
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

func (h *localHandle) Close() error { return h.file.Close() }
