// Package blefile implements a single-peer file transfer service for
// devices that expose their storage over a short-range wireless link.
//
// A remote peer lists, uploads, downloads, and deletes files on the
// device through a small line-oriented command protocol carried by a
// notify/write transport. One transfer is active at a time; file bytes
// travel as base64 chunks inside protocol lines, with single-byte
// progress percentages on a separate channel.
//
// Example:
//
//	options := blefile.NewOptions()
//	options.StorageRoot = "/var/lib/blefile"
//
//	tr, err := transport.NewTCPTransport(":7345")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	svc, err := blefile.New(tr, options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Kill()
//
//	svc.OnTransferComplete(func(res protocol.TransferResult) {
//	    fmt.Printf("%s of %s done (%d bytes)\n", res.Direction, res.Name, res.Bytes)
//	})
package blefile

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/blefile/protocol"
	"github.com/opd-ai/blefile/storage"
	"github.com/opd-ai/blefile/transfer"
	"github.com/opd-ai/blefile/transport"
)

// DefaultChunkSize is the raw chunk size in bytes, before encoding
// expansion. Both peers must agree on it out of band; it is not
// negotiated in-protocol.
const DefaultChunkSize = 200

// Options contains configuration for creating a Service.
type Options struct {
	// StorageRoot is the directory holding the peer-visible files.
	StorageRoot string

	// QuotaBytes caps the total stored bytes. Zero disables the quota.
	QuotaBytes uint64

	// ChunkSize is the raw transfer chunk size in bytes.
	ChunkSize int

	// UploadProgressEvery coalesces upload progress to every Nth chunk.
	UploadProgressEvery uint32

	// DownloadProgressEvery coalesces download progress to every Nth
	// chunk.
	DownloadProgressEvery uint32

	// ChunkPacing is the delay between outgoing download chunks.
	ChunkPacing time.Duration

	// IdleTimeout evicts an upload that has received no data for this
	// long. Zero disables eviction.
	IdleTimeout time.Duration
}

// NewOptions creates an Options with default values.
func NewOptions() *Options {
	return &Options{
		StorageRoot:           "files",
		ChunkSize:             DefaultChunkSize,
		UploadProgressEvery:   protocol.DefaultUploadProgressEvery,
		DownloadProgressEvery: protocol.DefaultDownloadProgressEvery,
		ChunkPacing:           protocol.DefaultChunkPacing,
		IdleTimeout:           transfer.DefaultIdleTimeout,
	}
}

// Service is a running file transfer service bound to one transport.
type Service struct {
	options    *Options
	store      *storage.Local
	session    *transfer.Session
	dispatcher *protocol.Dispatcher
	transport  transport.Transport

	mu      sync.Mutex
	running bool
}

// New creates a Service over the given transport and starts handling
// commands.
func New(t transport.Transport, options *Options) (*Service, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.ChunkSize <= 0 {
		return nil, errors.New("chunk size must be positive")
	}

	store, err := storage.NewLocal(options.StorageRoot, options.QuotaBytes)
	if err != nil {
		return nil, err
	}

	session := transfer.NewSession(store, options.ChunkSize)
	session.SetIdleTimeout(options.IdleTimeout)

	dispatcher := protocol.NewDispatcher(t, store, session, protocol.Config{
		ChunkSize:             options.ChunkSize,
		UploadProgressEvery:   options.UploadProgressEvery,
		DownloadProgressEvery: options.DownloadProgressEvery,
		ChunkPacing:           options.ChunkPacing,
	})
	dispatcher.Attach()

	logrus.WithFields(logrus.Fields{
		"function":     "New",
		"storage_root": options.StorageRoot,
		"quota_bytes":  options.QuotaBytes,
		"chunk_size":   options.ChunkSize,
	}).Info("File transfer service started")

	return &Service{
		options:    options,
		store:      store,
		session:    session,
		dispatcher: dispatcher,
		transport:  t,
		running:    true,
	}, nil
}

// OnProgress registers a callback mirroring every progress byte sent to
// the peer.
func (s *Service) OnProgress(cb func(percent uint8)) {
	s.dispatcher.OnProgress(cb)
}

// OnTransferComplete registers a callback fired after each successful
// upload or download.
func (s *Service) OnTransferComplete(cb func(protocol.TransferResult)) {
	s.dispatcher.OnTransferComplete(cb)
}

// OnTransferFailed registers a callback fired when a transfer is
// aborted by a fault.
func (s *Service) OnTransferFailed(cb func(name string, err error)) {
	s.dispatcher.OnTransferFailed(cb)
}

// Phase returns the current transfer phase.
func (s *Service) Phase() transfer.Phase {
	return s.session.Phase()
}

// Storage returns the service's storage for local inspection.
func (s *Service) Storage() *storage.Local {
	return s.store
}

// IsRunning reports whether the service has not been killed.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Kill aborts any active transfer and shuts the service down. It is
// safe to call more than once.
func (s *Service) Kill() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.dispatcher.Close()
	s.session.Abort()
	if err := s.transport.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Kill",
			"error":    err.Error(),
		}).Warn("Failed to close transport")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Kill",
	}).Info("File transfer service stopped")
}
