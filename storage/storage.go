package storage

import "errors"

// ErrDirectoryTraversal indicates an attempt to access files outside the
// storage root.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// FileInfo describes one stored file in a listing.
type FileInfo struct {
	Name string
	Size uint64
}

// Handle is an exclusively owned file handle. The transfer session holds
// at most one open Handle at a time and no other component may touch it
// while it is open.
type Handle interface {
	// Write appends p to the file and returns the number of bytes
	// actually written.
	Write(p []byte) (int, error)

	// Read fills p with the next bytes of the file and returns the
	// number of bytes read. It returns io.EOF at end of file.
	Read(p []byte) (int, error)

	// Size returns the current size of the file in bytes.
	Size() uint64

	// Close releases the handle.
	Close() error
}

// Storage is the persistent storage adapter consumed by the transfer core.
type Storage interface {
	// Exists reports whether a file is present under the given name.
	Exists(name string) bool

	// FreeBytes returns the number of bytes still available for new data.
	FreeBytes() uint64

	// OpenWrite opens a fresh truncating write handle for name.
	OpenWrite(name string) (Handle, error)

	// OpenRead opens name for sequential reading.
	OpenRead(name string) (Handle, error)

	// Remove deletes the named file, reporting whether removal succeeded.
	Remove(name string) bool

	// List enumerates stored files (non-directory entries only).
	List() ([]FileInfo, error)
}
