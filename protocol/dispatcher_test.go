package protocol

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/blefile/codec"
	"github.com/opd-ai/blefile/storage"
	"github.com/opd-ai/blefile/transfer"
	"github.com/opd-ai/blefile/transport"
)

const testChunkSize = 200

type testRig struct {
	dispatcher *Dispatcher
	transport  *transport.Loopback
	store      *storage.Local
	session    *transfer.Session
}

func newTestRig(t *testing.T, quota uint64) *testRig {
	t.Helper()

	store, err := storage.NewLocal(t.TempDir(), quota)
	require.NoError(t, err)

	lb := transport.NewLoopback()
	session := transfer.NewSession(store, testChunkSize)
	d := NewDispatcher(lb, store, session, Config{
		ChunkSize:   testChunkSize,
		ChunkPacing: time.Millisecond,
	})

	return &testRig{dispatcher: d, transport: lb, store: store, session: session}
}

func (r *testRig) storeFile(t *testing.T, name string, data []byte) {
	t.Helper()
	h, err := r.store.OpenWrite(name)
	require.NoError(t, err)
	_, err = h.Write(data)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestPing(t *testing.T) {
	r := newTestRig(t, 0)
	r.dispatcher.HandleLine("CMD:PING")
	assert.Equal(t, []string{"PONG"}, r.transport.PeerLines())
	assert.Equal(t, transfer.PhaseIdle, r.session.Phase())
}

func TestUnknownCommand(t *testing.T) {
	r := newTestRig(t, 0)
	r.dispatcher.HandleLine("CMD:SELFDESTRUCT")
	assert.Equal(t, []string{"ERROR:UNKNOWN_COMMAND"}, r.transport.PeerLines())
}

func TestInvalidUploadCommand(t *testing.T) {
	r := newTestRig(t, 0)
	r.dispatcher.HandleLine("CMD:UPLOAD_START:nosize")
	assert.Equal(t, []string{"ERROR:INVALID_UPLOAD_COMMAND"}, r.transport.PeerLines())
	assert.Equal(t, transfer.PhaseIdle, r.session.Phase())
}

// TestUploadScenario runs the scripted 300-byte upload: two chunks of
// 200 and 100 bytes produce ACK:1, ACK:2 and UPLOAD_COMPLETE:300.
func TestUploadScenario(t *testing.T) {
	r := newTestRig(t, 0)

	r.dispatcher.HandleLine("CMD:UPLOAD_START:/a.bin:300")
	r.dispatcher.HandleLine("CMD:UPLOAD_CHUNK:" + codec.Encode(bytes.Repeat([]byte{0x01}, 200)))
	r.dispatcher.HandleLine("CMD:UPLOAD_CHUNK:" + codec.Encode(bytes.Repeat([]byte{0x02}, 100)))

	assert.Equal(t, []string{
		"OK:UPLOAD_READY",
		"ACK:1",
		"ACK:2",
		"OK:UPLOAD_COMPLETE:300",
	}, r.transport.PeerLines())

	progress := r.transport.PeerProgress()
	require.NotEmpty(t, progress)
	assert.Equal(t, uint8(0), progress[0], "initial progress event")
	assert.Equal(t, uint8(100), progress[len(progress)-1], "final progress event")

	assert.Equal(t, transfer.PhaseIdle, r.session.Phase())
	assert.True(t, r.store.Exists("/a.bin"))
}

// TestZeroSizeUploadCompletesImmediately covers an upload declaring
// zero bytes: no chunks follow, so the completion message must come
// right after the ready message and the session must return to idle.
func TestZeroSizeUploadCompletesImmediately(t *testing.T) {
	r := newTestRig(t, 0)

	var results []TransferResult
	r.dispatcher.OnTransferComplete(func(res TransferResult) {
		results = append(results, res)
	})

	r.dispatcher.HandleLine("CMD:UPLOAD_START:/empty.bin:0")

	assert.Equal(t, []string{
		"OK:UPLOAD_READY",
		"OK:UPLOAD_COMPLETE:0",
	}, r.transport.PeerLines())

	progress := r.transport.PeerProgress()
	require.NotEmpty(t, progress)
	assert.Equal(t, uint8(100), progress[len(progress)-1])

	assert.Equal(t, transfer.PhaseIdle, r.session.Phase())
	assert.True(t, r.store.Exists("/empty.bin"), "empty file stored")

	require.Len(t, results, 1)
	assert.Equal(t, "/empty.bin", results[0].Name)
	assert.Equal(t, uint64(0), results[0].Bytes)
	assert.NotEmpty(t, results[0].ID)

	// The session is free again for the next transfer.
	r.dispatcher.HandleLine("CMD:UPLOAD_START:/next.bin:100")
	lines := r.transport.PeerLines()
	assert.Equal(t, "OK:UPLOAD_READY", lines[len(lines)-1])
}

func TestUploadSizeMismatchWarning(t *testing.T) {
	r := newTestRig(t, 0)

	r.dispatcher.HandleLine("CMD:UPLOAD_START:/short.bin:300")
	r.dispatcher.HandleLine("CMD:UPLOAD_CHUNK:" + codec.Encode(make([]byte, 200)))
	r.dispatcher.HandleLine("CMD:UPLOAD_CHUNK:" + codec.Encode(make([]byte, 50)))

	lines := r.transport.PeerLines()
	assert.Equal(t, "WARNING:SIZE_MISMATCH:250", lines[len(lines)-1])
	assert.True(t, r.store.Exists("/short.bin"), "mismatched file kept")
}

func TestUploadChunkWithoutUpload(t *testing.T) {
	r := newTestRig(t, 0)
	r.dispatcher.HandleLine("CMD:UPLOAD_CHUNK:" + codec.Encode([]byte("data")))
	assert.Equal(t, []string{"ERROR:NOT_UPLOADING"}, r.transport.PeerLines())
}

// TestUploadDecodeFailureIsTransient verifies a bad chunk leaves the
// session open; the next good chunk is accepted normally.
func TestUploadDecodeFailureIsTransient(t *testing.T) {
	r := newTestRig(t, 0)

	r.dispatcher.HandleLine("CMD:UPLOAD_START:/a.bin:200")
	r.dispatcher.HandleLine("CMD:UPLOAD_CHUNK:!!!garbage!!!")

	assert.Equal(t, transfer.PhaseUploading, r.session.Phase())

	r.dispatcher.HandleLine("CMD:UPLOAD_CHUNK:" + codec.Encode(make([]byte, 200)))

	assert.Equal(t, []string{
		"OK:UPLOAD_READY",
		"ERROR:DECODE_FAILED",
		"ACK:1",
		"OK:UPLOAD_COMPLETE:200",
	}, r.transport.PeerLines())
}

func TestUploadOversizedChunkRejected(t *testing.T) {
	r := newTestRig(t, 0)

	r.dispatcher.HandleLine("CMD:UPLOAD_START:/a.bin:600")
	r.dispatcher.HandleLine("CMD:UPLOAD_CHUNK:" + codec.Encode(make([]byte, 500)))

	lines := r.transport.PeerLines()
	assert.Equal(t, "ERROR:CHUNK_TOO_LARGE", lines[len(lines)-1])
	assert.Equal(t, transfer.PhaseUploading, r.session.Phase(), "oversized chunk is transient")
}

func TestUploadNoSpace(t *testing.T) {
	r := newTestRig(t, 100)
	r.dispatcher.HandleLine("CMD:UPLOAD_START:/big.bin:500")
	assert.Equal(t, []string{"ERROR:NO_SPACE"}, r.transport.PeerLines())
	assert.False(t, r.store.Exists("/big.bin"))
}

func TestUploadExclusivity(t *testing.T) {
	r := newTestRig(t, 0)

	r.dispatcher.HandleLine("CMD:UPLOAD_START:/a.bin:300")
	r.dispatcher.HandleLine("CMD:UPLOAD_START:/b.bin:100")
	r.dispatcher.HandleLine("CMD:DOWNLOAD:/a.bin")

	assert.Equal(t, []string{
		"OK:UPLOAD_READY",
		"ERROR:TRANSFER_IN_PROGRESS",
		"ERROR:TRANSFER_IN_PROGRESS",
	}, r.transport.PeerLines())
	assert.Equal(t, "/a.bin", r.session.ActiveFile())
}

func TestListEmpty(t *testing.T) {
	r := newTestRig(t, 0)
	r.dispatcher.HandleLine("CMD:LIST")
	assert.Equal(t, []string{"FILES_START", "FILES_END:0"}, r.transport.PeerLines())
}

func TestListFiles(t *testing.T) {
	r := newTestRig(t, 0)
	r.storeFile(t, "/a.bin", make([]byte, 10))
	r.storeFile(t, "/b.bin", make([]byte, 20))

	r.dispatcher.HandleLine("CMD:LIST")

	assert.Equal(t, []string{
		"FILES_START",
		"FILE:a.bin:10",
		"FILE:b.bin:20",
		"FILES_END:2",
	}, r.transport.PeerLines())
}

func TestDelete(t *testing.T) {
	r := newTestRig(t, 0)
	r.storeFile(t, "/a.bin", []byte("x"))

	r.dispatcher.HandleLine("CMD:DELETE:/a.bin")
	assert.Equal(t, []string{"OK:DELETED"}, r.transport.PeerLines())
	assert.False(t, r.store.Exists("/a.bin"))

	r.dispatcher.HandleLine("CMD:DELETE:/a.bin")
	lines := r.transport.PeerLines()
	assert.Equal(t, "ERROR:FILE_NOT_FOUND", lines[len(lines)-1])
}

func TestDeleteFileInUse(t *testing.T) {
	r := newTestRig(t, 0)

	r.dispatcher.HandleLine("CMD:UPLOAD_START:/a.bin:300")
	r.dispatcher.HandleLine("CMD:DELETE:/a.bin")

	lines := r.transport.PeerLines()
	assert.Equal(t, "ERROR:FILE_IN_USE", lines[len(lines)-1])
	assert.True(t, r.store.Exists("/a.bin"), "in-use file not removed")
	assert.Equal(t, transfer.PhaseUploading, r.session.Phase())
}

func TestDownloadMissingFile(t *testing.T) {
	r := newTestRig(t, 0)
	r.dispatcher.HandleLine("CMD:DOWNLOAD:/nope.bin")
	assert.Equal(t, []string{"ERROR:FILE_NOT_FOUND"}, r.transport.PeerLines())
}

// TestDownloadScenario runs the scripted 300-byte download: two chunks
// of 200 and 100 bytes bracketed by DOWNLOAD_START and DOWNLOAD_END.
func TestDownloadScenario(t *testing.T) {
	r := newTestRig(t, 0)
	content := bytes.Repeat([]byte{0xAB}, 300)
	r.storeFile(t, "/a.bin", content)

	r.dispatcher.HandleLine("CMD:DOWNLOAD:/a.bin")

	require.Eventually(t, func() bool {
		lines := r.transport.PeerLines()
		return len(lines) > 0 && lines[len(lines)-1] == "DOWNLOAD_END:300"
	}, 2*time.Second, 5*time.Millisecond, "download did not finish")

	assert.Equal(t, []string{
		"DOWNLOAD_START:a.bin:300",
		fmt.Sprintf("CHUNK:0:%s", codec.Encode(content[:200])),
		fmt.Sprintf("CHUNK:1:%s", codec.Encode(content[200:])),
		"DOWNLOAD_END:300",
	}, r.transport.PeerLines())

	progress := r.transport.PeerProgress()
	require.NotEmpty(t, progress)
	assert.Equal(t, uint8(100), progress[len(progress)-1])

	assert.Equal(t, transfer.PhaseIdle, r.session.Phase())
	assert.True(t, r.store.Exists("/a.bin"), "source untouched")
}

// TestDownloadPumpReleasesCancel verifies a finished pump clears its
// cancel func so a later Close never invokes a spent one.
func TestDownloadPumpReleasesCancel(t *testing.T) {
	r := newTestRig(t, 0)
	r.storeFile(t, "/a.bin", make([]byte, 100))

	r.dispatcher.HandleLine("CMD:DOWNLOAD:/a.bin")

	require.Eventually(t, func() bool {
		r.dispatcher.mu.Lock()
		defer r.dispatcher.mu.Unlock()
		return r.dispatcher.downloadCancel == nil
	}, 2*time.Second, time.Millisecond, "cancel func not released")

	assert.Equal(t, transfer.PhaseIdle, r.session.Phase())
}

func TestDisconnectMidUploadCleansUp(t *testing.T) {
	r := newTestRig(t, 0)
	r.dispatcher.Attach()
	defer r.dispatcher.Close()

	r.transport.PeerSend("CMD:UPLOAD_START:/a.bin:300")
	r.transport.PeerSend("CMD:UPLOAD_CHUNK:" + codec.Encode(make([]byte, 200)))
	require.Equal(t, transfer.PhaseUploading, r.session.Phase())

	r.transport.PeerDisconnect()

	assert.Equal(t, transfer.PhaseIdle, r.session.Phase())
	assert.False(t, r.store.Exists("/a.bin"), "partial upload removed on disconnect")

	// No response is sent for a disconnect.
	lines := r.transport.PeerLines()
	assert.Equal(t, "ACK:1", lines[len(lines)-1])
}

func TestDisconnectMidDownloadKeepsSource(t *testing.T) {
	r := newTestRig(t, 0)
	r.dispatcher.Attach()
	defer r.dispatcher.Close()

	// Generous pacing keeps the pump alive long enough to disconnect
	// mid-transfer.
	r.dispatcher.pacing = 50 * time.Millisecond
	content := bytes.Repeat([]byte{0x01}, 200*20)
	r.storeFile(t, "/big.bin", content)

	r.transport.PeerSend("CMD:DOWNLOAD:/big.bin")
	require.Eventually(t, func() bool {
		return len(r.transport.PeerLines()) >= 2
	}, 2*time.Second, time.Millisecond, "first chunk never sent")

	r.transport.PeerDisconnect()

	require.Eventually(t, func() bool {
		return r.session.Phase() == transfer.PhaseIdle
	}, 2*time.Second, time.Millisecond, "session did not abort")

	assert.True(t, r.store.Exists("/big.bin"), "download source kept")
}

func TestCompletionCallback(t *testing.T) {
	r := newTestRig(t, 0)

	var results []TransferResult
	r.dispatcher.OnTransferComplete(func(res TransferResult) {
		results = append(results, res)
	})

	r.dispatcher.HandleLine("CMD:UPLOAD_START:/a.bin:100")
	r.dispatcher.HandleLine("CMD:UPLOAD_CHUNK:" + codec.Encode(make([]byte, 100)))

	require.Len(t, results, 1)
	assert.Equal(t, "/a.bin", results[0].Name)
	assert.Equal(t, uint64(100), results[0].Bytes)
	assert.Equal(t, "upload", results[0].Direction)
	assert.NotEmpty(t, results[0].ID)
}
