package transfer

import (
	"bytes"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/opd-ai/blefile/storage"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	currentTime time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockTimeProvider) Now() time.Time { return m.currentTime }

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.currentTime.Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.currentTime = m.currentTime.Add(d)
}

// mockStorage implements storage.Storage in memory with injectable
// failures.
type mockStorage struct {
	files map[string][]byte
	free  uint64

	failOpenWrite bool
	failOpenRead  bool
	shortWrites   bool

	openHandles int
}

func newMockStorage(free uint64) *mockStorage {
	return &mockStorage{files: map[string][]byte{}, free: free}
}

func (m *mockStorage) Exists(name string) bool {
	_, ok := m.files[name]
	return ok
}

func (m *mockStorage) FreeBytes() uint64 { return m.free }

func (m *mockStorage) OpenWrite(name string) (storage.Handle, error) {
	if m.failOpenWrite {
		return nil, errors.New("injected open failure")
	}
	m.files[name] = nil
	m.openHandles++
	return &mockHandle{store: m, name: name, writable: true}, nil
}

func (m *mockStorage) OpenRead(name string) (storage.Handle, error) {
	if m.failOpenRead {
		return nil, errors.New("injected open failure")
	}
	data, ok := m.files[name]
	if !ok {
		return nil, errors.New("no such file")
	}
	m.openHandles++
	return &mockHandle{store: m, name: name, reader: bytes.NewReader(data)}, nil
}

func (m *mockStorage) Remove(name string) bool {
	if _, ok := m.files[name]; !ok {
		return false
	}
	delete(m.files, name)
	return true
}

func (m *mockStorage) List() ([]storage.FileInfo, error) {
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)

	files := make([]storage.FileInfo, 0, len(names))
	for _, name := range names {
		files = append(files, storage.FileInfo{Name: name, Size: uint64(len(m.files[name]))})
	}
	return files, nil
}

type mockHandle struct {
	store    *mockStorage
	name     string
	writable bool
	reader   *bytes.Reader
	closed   bool
}

func (h *mockHandle) Write(p []byte) (int, error) {
	if !h.writable {
		return 0, errors.New("handle not writable")
	}
	if h.store.shortWrites && len(p) > 0 {
		h.store.files[h.name] = append(h.store.files[h.name], p[:len(p)-1]...)
		return len(p) - 1, nil
	}
	h.store.files[h.name] = append(h.store.files[h.name], p...)
	return len(p), nil
}

func (h *mockHandle) Read(p []byte) (int, error) {
	if h.reader == nil {
		return 0, io.EOF
	}
	return h.reader.Read(p)
}

func (h *mockHandle) Size() uint64 {
	return uint64(len(h.store.files[h.name]))
}

func (h *mockHandle) Close() error {
	if !h.closed {
		h.closed = true
		h.store.openHandles--
	}
	return nil
}
