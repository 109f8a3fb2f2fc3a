package transfer

import (
	"errors"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/blefile/storage"
)

// ErrTransferInProgress indicates a transfer is already active.
var ErrTransferInProgress = errors.New("transfer already in progress")

// ErrNoSpace indicates the declared upload size exceeds free storage.
var ErrNoSpace = errors.New("not enough free space for upload")

// ErrCreateFailed indicates the upload target could not be opened.
var ErrCreateFailed = errors.New("failed to create upload target")

// ErrNotUploading indicates a chunk arrived with no upload active.
var ErrNotUploading = errors.New("no upload in progress")

// ErrWriteFailed indicates an unrecoverable short write; the transfer is
// aborted and the partial file deleted.
var ErrWriteFailed = errors.New("failed to write chunk to storage")

// ErrFileNotFound indicates the requested file does not exist.
var ErrFileNotFound = errors.New("file not found")

// ErrOpenFailed indicates the download source could not be opened.
var ErrOpenFailed = errors.New("failed to open file for reading")

// ErrNoActiveDownload indicates a chunk read with no download active.
var ErrNoActiveDownload = errors.New("no download in progress")

// ErrTransferTimeout indicates an upload was evicted after receiving no
// data within the idle timeout.
var ErrTransferTimeout = errors.New("transfer timed out: no data received within timeout period")

// Phase is the session's current mode.
type Phase uint8

const (
	// PhaseIdle means no transfer is active.
	PhaseIdle Phase = iota
	// PhaseUploading means an upload owns the session.
	PhaseUploading
	// PhaseDownloading means a download owns the session.
	PhaseDownloading
)

// String returns a readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUploading:
		return "uploading"
	case PhaseDownloading:
		return "downloading"
	default:
		return "idle"
	}
}

// DefaultIdleTimeout is the default inactivity period after which a
// stalled upload is evicted. Zero disables eviction.
const DefaultIdleTimeout = 30 * time.Second

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// ChunkReceipt reports the outcome of one accepted upload chunk.
type ChunkReceipt struct {
	// Count is the running number of accepted chunks.
	Count uint32
	// Completed is true when this chunk finished the upload.
	Completed bool
	// StoredSize is the measured size of the stored file. Only set
	// when Completed.
	StoredSize uint64
	// SizeMatch is true when StoredSize equals the declared size.
	// Only meaningful when Completed.
	SizeMatch bool
}

// DownloadInfo describes a download at start time.
type DownloadInfo struct {
	// DisplayName is the file name with any storage path prefix
	// stripped.
	DisplayName string
	// Size is the total byte count that will be sent.
	Size uint64
}

// Session is the one-at-a-time transfer state machine. There is exactly
// one instance for the system's lifetime; it is never destroyed, only
// reset back to idle.
type Session struct {
	store     storage.Storage
	chunkSize int

	mu             sync.Mutex
	phase          Phase
	id             string
	filename       string
	expectedSize   uint64
	transferred    uint64
	expectedChunks uint32
	receivedChunks uint32
	handle         storage.Handle

	idleTimeout  time.Duration
	timeProvider TimeProvider
	lastActivity time.Time
	startTime    time.Time

	// transferSpeed is an exponential moving average in bytes/second.
	transferSpeed float64
	lastChunkTime time.Time
}

// NewSession creates an idle session over the given storage with the
// given raw chunk size.
func NewSession(store storage.Storage, chunkSize int) *Session {
	return &Session{
		store:        store,
		chunkSize:    chunkSize,
		phase:        PhaseIdle,
		idleTimeout:  DefaultIdleTimeout,
		timeProvider: DefaultTimeProvider{},
	}
}

// SetIdleTimeout configures the upload eviction timeout. Zero disables
// eviction.
func (s *Session) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimeout = d
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (s *Session) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeProvider = tp
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ID returns the identifier of the active transfer, or "" when idle.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// ActiveFile returns the file name owned by the active transfer, or ""
// when idle.
func (s *Session) ActiveFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseIdle {
		return ""
	}
	return s.filename
}

// Progress returns the current transfer percentage (0-100).
func (s *Session) Progress() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Session) progressLocked() uint8 {
	if s.expectedSize == 0 {
		return 100
	}
	pct := s.transferred * 100 / s.expectedSize
	if pct > 100 {
		pct = 100
	}
	return uint8(pct)
}

// Speed returns the current transfer speed in bytes per second.
func (s *Session) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferSpeed
}

// StartUpload moves the session from Idle to Uploading for a declared
// total size. An existing file of the same name is removed first; the
// upload always overwrites.
func (s *Session) StartUpload(name string, total uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseIdle {
		return ErrTransferInProgress
	}

	if s.store.FreeBytes() < total {
		logrus.WithFields(logrus.Fields{
			"function":   "StartUpload",
			"file_name":  name,
			"total_size": total,
			"free_bytes": s.store.FreeBytes(),
		}).Warn("Upload rejected: not enough free space")
		return ErrNoSpace
	}

	if s.store.Exists(name) {
		s.store.Remove(name)
	}

	handle, err := s.store.OpenWrite(name)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "StartUpload",
			"file_name": name,
			"error":     err.Error(),
		}).Error("Failed to open upload target")
		return ErrCreateFailed
	}

	now := s.timeProvider.Now()
	s.phase = PhaseUploading
	s.id = uuid.NewString()
	s.filename = name
	s.expectedSize = total
	s.transferred = 0
	s.expectedChunks = chunkCount(total, s.chunkSize)
	s.receivedChunks = 0
	s.handle = handle
	s.startTime = now
	s.lastActivity = now
	s.lastChunkTime = now
	s.transferSpeed = 0

	logrus.WithFields(logrus.Fields{
		"function":        "StartUpload",
		"session_id":      s.id,
		"file_name":       name,
		"total_size":      total,
		"expected_chunks": s.expectedChunks,
	}).Info("Upload started")

	return nil
}

// FinishEmptyUpload finalizes a zero-size upload. Its completion bound
// of zero chunks is already met when the upload starts, so no chunk
// will ever arrive to trigger finalization; the caller must invoke this
// right after StartUpload succeeds with a zero total. A no-op returning
// an empty receipt in any other state.
func (s *Session) FinishEmptyUpload() ChunkReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseUploading || s.expectedSize != 0 {
		return ChunkReceipt{}
	}

	receipt := ChunkReceipt{Completed: true}
	receipt.StoredSize, receipt.SizeMatch = s.finalizeUploadLocked()
	return receipt
}

// ReceiveChunk writes one decoded chunk of the active upload. A short
// write is an unrecoverable fault: the partial file is deleted and the
// session reset. Completion is detected either by chunk count or by the
// byte bound, whichever is reached first.
func (s *Session) ReceiveChunk(data []byte) (ChunkReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseUploading {
		return ChunkReceipt{}, ErrNotUploading
	}

	n, err := s.handle.Write(data)
	if err != nil || n != len(data) {
		logrus.WithFields(logrus.Fields{
			"function":   "ReceiveChunk",
			"session_id": s.id,
			"file_name":  s.filename,
			"written":    n,
			"expected":   len(data),
		}).Error("Chunk write failed, aborting upload")

		name := s.filename
		s.handle.Close()
		s.store.Remove(name)
		s.resetLocked()
		return ChunkReceipt{}, ErrWriteFailed
	}

	s.transferred += uint64(n)
	s.receivedChunks++
	s.updateSpeedLocked(uint64(n))
	s.lastActivity = s.timeProvider.Now()

	receipt := ChunkReceipt{Count: s.receivedChunks}

	if s.receivedChunks >= s.expectedChunks || s.transferred >= s.expectedSize {
		receipt.Completed = true
		receipt.StoredSize, receipt.SizeMatch = s.finalizeUploadLocked()
	}

	return receipt, nil
}

// finalizeUploadLocked closes the upload, measures the stored size by
// re-opening the file read-only, and resets the session. The file is
// kept even on a size mismatch; the peer decides what to do with it.
func (s *Session) finalizeUploadLocked() (uint64, bool) {
	name := s.filename
	declared := s.expectedSize
	id := s.id

	s.handle.Close()
	s.handle = nil

	var stored uint64
	if h, err := s.store.OpenRead(name); err == nil {
		stored = h.Size()
		h.Close()
	}

	s.resetLocked()

	match := stored == declared
	logrus.WithFields(logrus.Fields{
		"function":      "finalizeUpload",
		"session_id":    id,
		"file_name":     name,
		"declared_size": declared,
		"stored_size":   stored,
		"size_match":    match,
	}).Info("Upload finalized")

	return stored, match
}

// StartDownload moves the session from Idle to Downloading.
func (s *Session) StartDownload(name string) (DownloadInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseIdle {
		return DownloadInfo{}, ErrTransferInProgress
	}

	if !s.store.Exists(name) {
		return DownloadInfo{}, ErrFileNotFound
	}

	handle, err := s.store.OpenRead(name)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "StartDownload",
			"file_name": name,
			"error":     err.Error(),
		}).Error("Failed to open download source")
		return DownloadInfo{}, ErrOpenFailed
	}

	now := s.timeProvider.Now()
	s.phase = PhaseDownloading
	s.id = uuid.NewString()
	s.filename = name
	s.expectedSize = handle.Size()
	s.transferred = 0
	s.expectedChunks = 0
	s.receivedChunks = 0
	s.handle = handle
	s.startTime = now
	s.lastActivity = now
	s.lastChunkTime = now
	s.transferSpeed = 0

	logrus.WithFields(logrus.Fields{
		"function":   "StartDownload",
		"session_id": s.id,
		"file_name":  name,
		"file_size":  s.expectedSize,
	}).Info("Download started")

	return DownloadInfo{DisplayName: path.Base(name), Size: s.expectedSize}, nil
}

// ReadChunk reads the next fixed-size chunk of the active download. It
// returns io.EOF once the file is exhausted.
func (s *Session) ReadChunk() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseDownloading {
		return nil, ErrNoActiveDownload
	}

	buf := make([]byte, s.chunkSize)
	n, err := s.handle.Read(buf)
	if n > 0 {
		s.transferred += uint64(n)
		s.updateSpeedLocked(uint64(n))
		s.lastActivity = s.timeProvider.Now()
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

// FinishDownload closes the completed download and resets the session.
// It returns the total bytes sent.
func (s *Session) FinishDownload() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseDownloading {
		return 0
	}

	total := s.transferred
	id := s.id
	name := s.filename

	s.handle.Close()
	s.handle = nil
	s.resetLocked()

	logrus.WithFields(logrus.Fields{
		"function":   "FinishDownload",
		"session_id": id,
		"file_name":  name,
		"bytes_sent": total,
	}).Info("Download finished")

	return total
}

// Abort returns the session to Idle from any phase. The handle is
// closed; a partial upload is deleted, a download source is left
// untouched. Abort from Idle is a no-op.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked("Abort")
}

func (s *Session) abortLocked(caller string) {
	if s.phase == PhaseIdle {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    caller,
		"session_id":  s.id,
		"file_name":   s.filename,
		"phase":       s.phase.String(),
		"transferred": s.transferred,
	}).Warn("Aborting active transfer")

	wasUploading := s.phase == PhaseUploading
	name := s.filename

	s.handle.Close()
	s.handle = nil

	if wasUploading {
		s.store.Remove(name)
	}

	s.resetLocked()
}

// CheckIdleTimeout evicts an upload that has received no data within the
// idle timeout, cleaning up exactly like a disconnect. It reports
// whether an eviction happened. Downloads are driven by the service
// itself and are not subject to eviction.
func (s *Session) CheckIdleTimeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idleTimeout == 0 || s.phase != PhaseUploading {
		return false
	}

	idle := s.timeProvider.Since(s.lastActivity)
	if idle < s.idleTimeout {
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function":     "CheckIdleTimeout",
		"session_id":   s.id,
		"file_name":    s.filename,
		"idle":         idle,
		"idle_timeout": s.idleTimeout,
	}).Warn("Upload stalled, evicting session")

	s.abortLocked("CheckIdleTimeout")
	return true
}

// resetLocked clears all transfer fields. The handle must already be
// closed; entering Idle never leaves a handle open.
func (s *Session) resetLocked() {
	s.phase = PhaseIdle
	s.id = ""
	s.filename = ""
	s.expectedSize = 0
	s.transferred = 0
	s.expectedChunks = 0
	s.receivedChunks = 0
	s.handle = nil
	s.transferSpeed = 0
}

// updateSpeedLocked maintains an exponential moving average of the
// transfer speed, alpha = 0.3.
func (s *Session) updateSpeedLocked(chunkBytes uint64) {
	now := s.timeProvider.Now()
	duration := s.timeProvider.Since(s.lastChunkTime).Seconds()

	if duration > 0 {
		instant := float64(chunkBytes) / duration
		if s.transferSpeed == 0 {
			s.transferSpeed = instant
		} else {
			s.transferSpeed = 0.7*s.transferSpeed + 0.3*instant
		}
	}

	s.lastChunkTime = now
}

// chunkCount returns ceil(total/chunkSize).
func chunkCount(total uint64, chunkSize int) uint32 {
	if chunkSize <= 0 {
		return 0
	}
	return uint32((total + uint64(chunkSize) - 1) / uint64(chunkSize))
}
