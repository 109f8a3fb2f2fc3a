package storage

import (
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T, quota uint64) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), quota)
	require.NoError(t, err)
	return l
}

func writeFile(t *testing.T, l *Local, name string, data []byte) {
	t.Helper()
	h, err := l.OpenWrite(name)
	require.NoError(t, err)
	n, err := h.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, h.Close())
}

func TestLocalWriteReadRoundTrip(t *testing.T) {
	l := newTestLocal(t, 0)
	payload := []byte("device payload")
	writeFile(t, l, "/data.bin", payload)

	require.True(t, l.Exists("/data.bin"))

	h, err := l.OpenRead("/data.bin")
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, uint64(len(payload)), h.Size())

	got, err := io.ReadAll(handleReader{h})
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// handleReader adapts a Handle to io.Reader for test convenience.
type handleReader struct{ h Handle }

func (r handleReader) Read(p []byte) (int, error) { return r.h.Read(p) }

func TestLocalOpenWriteTruncates(t *testing.T) {
	l := newTestLocal(t, 0)
	writeFile(t, l, "/a.bin", []byte("long original content"))
	writeFile(t, l, "/a.bin", []byte("new"))

	h, err := l.OpenRead("/a.bin")
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, uint64(3), h.Size())
}

func TestLocalQuotaAccounting(t *testing.T) {
	l := newTestLocal(t, 100)
	assert.Equal(t, uint64(100), l.FreeBytes())

	writeFile(t, l, "/a.bin", make([]byte, 60))
	assert.Equal(t, uint64(40), l.FreeBytes())

	writeFile(t, l, "/b.bin", make([]byte, 60))
	assert.Equal(t, uint64(0), l.FreeBytes())
}

func TestLocalNoQuotaIsUnlimited(t *testing.T) {
	l := newTestLocal(t, 0)
	assert.Equal(t, uint64(math.MaxUint64), l.FreeBytes())
}

func TestLocalRejectsTraversal(t *testing.T) {
	l := newTestLocal(t, 0)

	tests := []string{
		"/../escape.bin",
		"../escape.bin",
		"/a/../../escape.bin",
		"/",
		"",
	}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := l.OpenWrite(name)
			require.Error(t, err)
			assert.False(t, l.Exists(name))
			assert.False(t, l.Remove(name))
		})
	}
}

func TestLocalRemove(t *testing.T) {
	l := newTestLocal(t, 0)
	writeFile(t, l, "/gone.bin", []byte("x"))

	assert.True(t, l.Remove("/gone.bin"))
	assert.False(t, l.Exists("/gone.bin"))
	assert.False(t, l.Remove("/gone.bin"), "second remove must report failure")
}

func TestLocalList(t *testing.T) {
	l := newTestLocal(t, 0)
	writeFile(t, l, "/b.bin", make([]byte, 2))
	writeFile(t, l, "/a.bin", make([]byte, 1))

	files, err := l.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, FileInfo{Name: "a.bin", Size: 1}, files[0])
	assert.Equal(t, FileInfo{Name: "b.bin", Size: 2}, files[1])
}
