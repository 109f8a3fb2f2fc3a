package protocol

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/blefile/codec"
	"github.com/opd-ai/blefile/storage"
	"github.com/opd-ai/blefile/transfer"
	"github.com/opd-ai/blefile/transport"
)

// DefaultUploadProgressEvery is the upload progress coalescing cadence:
// a progress byte is sent every Nth accepted chunk and on completion.
const DefaultUploadProgressEvery = 10

// DefaultDownloadProgressEvery is the download progress coalescing
// cadence.
const DefaultDownloadProgressEvery = 5

// DefaultChunkPacing is the delay between outgoing download chunks. It
// keeps a fast reader from overrunning the transport's outbound queue;
// the download pump is already cooperative, so this is flow-control
// courtesy rather than correctness.
const DefaultChunkPacing = 10 * time.Millisecond

// defaultJanitorInterval is how often the stalled-upload check runs.
const defaultJanitorInterval = 5 * time.Second

// TransferResult describes a finished transfer for completion callbacks.
type TransferResult struct {
	ID    string
	Name  string
	Bytes uint64
	// Direction is "upload" or "download".
	Direction string
}

// Config tunes the dispatcher. Zero values select the defaults above.
type Config struct {
	ChunkSize             int
	UploadProgressEvery   uint32
	DownloadProgressEvery uint32
	ChunkPacing           time.Duration
}

// Dispatcher receives command lines from the transport, drives the
// transfer session, and emits responses and progress events. All
// session and storage failures are converted into wire responses here;
// nothing propagates past this boundary.
type Dispatcher struct {
	transport transport.Transport
	store     storage.Storage
	session   *transfer.Session

	chunkSize             int
	uploadProgressEvery   uint32
	downloadProgressEvery uint32
	pacing                time.Duration

	mu             sync.Mutex
	downloadCtx    context.Context
	downloadCancel context.CancelFunc
	janitorStop    chan struct{}
	wg             sync.WaitGroup

	progressCallback func(uint8)
	completeCallback func(TransferResult)
	failedCallback   func(name string, err error)
}

// NewDispatcher wires a dispatcher to its collaborators. Call Attach to
// start receiving commands.
func NewDispatcher(t transport.Transport, store storage.Storage, session *transfer.Session, cfg Config) *Dispatcher {
	if cfg.UploadProgressEvery == 0 {
		cfg.UploadProgressEvery = DefaultUploadProgressEvery
	}
	if cfg.DownloadProgressEvery == 0 {
		cfg.DownloadProgressEvery = DefaultDownloadProgressEvery
	}
	if cfg.ChunkPacing == 0 {
		cfg.ChunkPacing = DefaultChunkPacing
	}

	return &Dispatcher{
		transport:             t,
		store:                 store,
		session:               session,
		chunkSize:             cfg.ChunkSize,
		uploadProgressEvery:   cfg.UploadProgressEvery,
		downloadProgressEvery: cfg.DownloadProgressEvery,
		pacing:                cfg.ChunkPacing,
	}
}

// OnProgress sets a callback mirroring every progress byte sent to the
// peer.
func (d *Dispatcher) OnProgress(cb func(uint8)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.progressCallback = cb
}

// OnTransferComplete sets a callback fired after a successful upload or
// download.
func (d *Dispatcher) OnTransferComplete(cb func(TransferResult)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completeCallback = cb
}

// OnTransferFailed sets a callback fired when a transfer is aborted by a
// fault.
func (d *Dispatcher) OnTransferFailed(cb func(name string, err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failedCallback = cb
}

// Attach registers the dispatcher on the transport and starts the
// stalled-upload janitor.
func (d *Dispatcher) Attach() {
	d.transport.RegisterCommandHandler(d.HandleLine)
	d.transport.RegisterDisconnectHandler(d.handleDisconnect)

	d.mu.Lock()
	d.janitorStop = make(chan struct{})
	stop := d.janitorStop
	d.mu.Unlock()

	d.wg.Add(1)
	go d.janitor(stop)

	logrus.WithFields(logrus.Fields{
		"function": "Attach",
	}).Info("Dispatcher attached to transport")
}

// Close stops the janitor and any running download pump. The session is
// left as-is; callers that want cleanup use the disconnect path.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.janitorStop != nil {
		close(d.janitorStop)
		d.janitorStop = nil
	}
	cancel := d.downloadCancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// HandleLine processes one inbound command line to completion.
func (d *Dispatcher) HandleLine(line string) {
	cmd := ParseCommand(line)

	logrus.WithFields(logrus.Fields{
		"function": "HandleLine",
		"command":  cmd.Kind.String(),
	}).Debug("Dispatching command")

	switch cmd.Kind {
	case CmdPing:
		d.send(RespPong)
	case CmdList:
		d.handleList()
	case CmdDelete:
		d.handleDelete(cmd.Name)
	case CmdUploadStart:
		d.handleUploadStart(cmd.Name, cmd.TotalSize)
	case CmdUploadStartInvalid:
		d.send(RespErrInvalidUploadCmd)
	case CmdUploadChunk:
		d.handleUploadChunk(cmd.Payload)
	case CmdDownload:
		d.handleDownload(cmd.Name)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "HandleLine",
			"raw":      cmd.Raw,
		}).Warn("Unknown command received")
		d.send(RespErrUnknownCommand)
	}
}

// handleList emits the bracketed file listing. A listing failure still
// produces a well-formed empty listing.
func (d *Dispatcher) handleList() {
	files, err := d.store.List()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleList",
			"error":    err.Error(),
		}).Error("Failed to list storage")
		files = nil
	}

	d.send(RespFilesStart)
	for _, f := range files {
		d.send(MsgFile(f.Name, f.Size))
	}
	d.send(MsgFilesEnd(len(files)))
}

// handleDelete removes a stored file unless it is missing or owned by
// the active transfer.
func (d *Dispatcher) handleDelete(name string) {
	if !d.store.Exists(name) {
		d.send(RespErrFileNotFound)
		return
	}
	if d.session.Phase() != transfer.PhaseIdle && d.session.ActiveFile() == name {
		d.send(RespErrFileInUse)
		return
	}
	if !d.store.Remove(name) {
		d.send(RespErrDeleteFailed)
		return
	}
	d.send(RespDeleted)
}

func (d *Dispatcher) handleUploadStart(name string, total uint64) {
	err := d.session.StartUpload(name, total)
	switch {
	case errors.Is(err, transfer.ErrTransferInProgress):
		d.send(RespErrTransferInProgress)
	case errors.Is(err, transfer.ErrNoSpace):
		d.send(RespErrNoSpace)
	case err != nil:
		d.send(RespErrCreateFailed)
	default:
		d.send(RespUploadReady)
		d.sendProgress(0)
		if total == 0 {
			d.finishEmptyUpload(name)
		}
	}
}

// finishEmptyUpload completes a zero-size upload in place. Zero chunks
// are expected, so the peer sends none and the completion message must
// follow the ready message directly.
func (d *Dispatcher) finishEmptyUpload(name string) {
	id := d.session.ID()
	receipt := d.session.FinishEmptyUpload()
	if !receipt.Completed {
		return
	}

	if receipt.SizeMatch {
		d.send(MsgUploadComplete(receipt.StoredSize))
		d.sendProgress(100)
		d.notifyComplete(TransferResult{ID: id, Name: name, Bytes: receipt.StoredSize, Direction: "upload"})
	} else {
		d.send(MsgSizeMismatch(receipt.StoredSize))
	}
}

func (d *Dispatcher) handleUploadChunk(payload string) {
	if d.session.Phase() != transfer.PhaseUploading {
		d.send(RespErrNotUploading)
		return
	}

	data, err := codec.DecodeBounded(payload, d.chunkSize)
	switch {
	case errors.Is(err, codec.ErrChunkTooLarge):
		// Transient, like a decode failure: the peer can resend with
		// the agreed chunk size.
		d.send(RespErrChunkTooLarge)
		return
	case err != nil:
		d.send(RespErrDecodeFailed)
		return
	}

	// Captured before the call: a fatal write or a completion resets
	// the session fields.
	id := d.session.ID()
	name := d.session.ActiveFile()

	receipt, err := d.session.ReceiveChunk(data)
	switch {
	case errors.Is(err, transfer.ErrNotUploading):
		d.send(RespErrNotUploading)
		return
	case err != nil:
		d.send(RespErrWriteFailed)
		d.notifyFailed(name, err)
		return
	}

	d.send(MsgAck(receipt.Count))

	if receipt.Completed {
		if receipt.SizeMatch {
			d.send(MsgUploadComplete(receipt.StoredSize))
			d.sendProgress(100)
			d.notifyComplete(TransferResult{ID: id, Name: name, Bytes: receipt.StoredSize, Direction: "upload"})
		} else {
			d.send(MsgSizeMismatch(receipt.StoredSize))
		}
		return
	}

	if receipt.Count%d.uploadProgressEvery == 0 {
		d.sendProgress(d.session.Progress())
	}
}

// handleDownload starts a download and launches the chunk pump. The pump
// runs as a cooperative cancellable task so a slow transport never
// stalls command handling.
func (d *Dispatcher) handleDownload(name string) {
	info, err := d.session.StartDownload(name)
	switch {
	case errors.Is(err, transfer.ErrTransferInProgress):
		d.send(RespErrTransferInProgress)
		return
	case errors.Is(err, transfer.ErrFileNotFound):
		d.send(RespErrFileNotFound)
		return
	case err != nil:
		d.send(RespErrFileOpenFailed)
		return
	}

	d.send(MsgDownloadStart(info.DisplayName, info.Size))

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.downloadCtx = ctx
	d.downloadCancel = cancel
	d.mu.Unlock()

	id := d.session.ID()
	d.wg.Add(1)
	go d.pumpDownload(ctx, cancel, id, name)
}

// pumpDownload reads, encodes and sends chunks until end of file, then
// emits the end-of-download message and final progress.
func (d *Dispatcher) pumpDownload(ctx context.Context, cancel context.CancelFunc, id, name string) {
	defer d.wg.Done()
	defer func() {
		// Release this pump's cancel func, unless a newer download has
		// already replaced it.
		d.mu.Lock()
		if d.downloadCtx == ctx {
			d.downloadCtx = nil
			d.downloadCancel = nil
		}
		d.mu.Unlock()
		cancel()
	}()

	var seq uint32
	for {
		select {
		case <-ctx.Done():
			d.session.Abort()
			return
		default:
		}

		data, err := d.session.ReadChunk()
		if err == io.EOF {
			total := d.session.FinishDownload()
			d.send(MsgDownloadEnd(total))
			d.sendProgress(100)
			d.notifyComplete(TransferResult{ID: id, Name: name, Bytes: total, Direction: "download"})
			return
		}
		if errors.Is(err, transfer.ErrNoActiveDownload) {
			// Aborted out from under the pump (disconnect or shutdown).
			return
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "pumpDownload",
				"session_id": id,
				"file_name":  name,
				"error":      err.Error(),
			}).Error("Chunk read failed, aborting download")
			d.session.Abort()
			d.notifyFailed(name, err)
			return
		}

		if sendErr := d.transport.SendLine(MsgChunk(seq, codec.Encode(data))); sendErr != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "pumpDownload",
				"session_id": id,
				"error":      sendErr.Error(),
			}).Warn("Transport send failed, aborting download")
			d.session.Abort()
			return
		}
		seq++

		if seq%d.downloadProgressEvery == 0 {
			d.sendProgress(d.session.Progress())
		}

		if d.pacing > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.pacing):
			}
		}
	}
}

// handleDisconnect aborts any active transfer. Fire-and-forget: there is
// no peer left to answer.
func (d *Dispatcher) handleDisconnect() {
	logrus.WithFields(logrus.Fields{
		"function": "handleDisconnect",
		"phase":    d.session.Phase().String(),
	}).Info("Peer disconnected")

	d.cancelDownload()
	d.session.Abort()
}

func (d *Dispatcher) cancelDownload() {
	d.mu.Lock()
	cancel := d.downloadCancel
	d.downloadCtx = nil
	d.downloadCancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// janitor periodically evicts stalled uploads.
func (d *Dispatcher) janitor(stop chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(defaultJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if d.session.CheckIdleTimeout() {
				// Best effort: the peer may still be connected and
				// deserves to know its upload is gone.
				d.send(RespErrTransferTimeout)
			}
		}
	}
}

// send writes one response line, logging transport failures.
func (d *Dispatcher) send(line string) {
	if err := d.transport.SendLine(line); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "send",
			"line":     line,
			"error":    err.Error(),
		}).Warn("Failed to send response")
	}
}

// sendProgress writes one progress byte and mirrors it to the callback.
func (d *Dispatcher) sendProgress(pct uint8) {
	if err := d.transport.SendProgress(pct); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendProgress",
			"percent":  pct,
			"error":    err.Error(),
		}).Warn("Failed to send progress")
	}

	d.mu.Lock()
	cb := d.progressCallback
	d.mu.Unlock()
	if cb != nil {
		cb(pct)
	}
}

func (d *Dispatcher) notifyComplete(result TransferResult) {
	d.mu.Lock()
	cb := d.completeCallback
	d.mu.Unlock()
	if cb != nil {
		cb(result)
	}
}

func (d *Dispatcher) notifyFailed(name string, err error) {
	d.mu.Lock()
	cb := d.failedCallback
	d.mu.Unlock()
	if cb != nil {
		cb(name, err)
	}
}
