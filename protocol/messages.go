package protocol

import "fmt"

// Fixed response lines.
const (
	RespPong        = "PONG"
	RespFilesStart  = "FILES_START"
	RespDeleted     = "OK:DELETED"
	RespUploadReady = "OK:UPLOAD_READY"

	RespErrUnknownCommand     = "ERROR:UNKNOWN_COMMAND"
	RespErrInvalidUploadCmd   = "ERROR:INVALID_UPLOAD_COMMAND"
	RespErrTransferInProgress = "ERROR:TRANSFER_IN_PROGRESS"
	RespErrNoSpace            = "ERROR:NO_SPACE"
	RespErrCreateFailed       = "ERROR:CREATE_FAILED"
	RespErrNotUploading       = "ERROR:NOT_UPLOADING"
	RespErrDecodeFailed       = "ERROR:DECODE_FAILED"
	RespErrChunkTooLarge      = "ERROR:CHUNK_TOO_LARGE"
	RespErrWriteFailed        = "ERROR:WRITE_FAILED"
	RespErrFileNotFound       = "ERROR:FILE_NOT_FOUND"
	RespErrFileInUse          = "ERROR:FILE_IN_USE"
	RespErrDeleteFailed       = "ERROR:DELETE_FAILED"
	RespErrFileOpenFailed     = "ERROR:FILE_OPEN_FAILED"
	RespErrTransferTimeout    = "ERROR:TRANSFER_TIMEOUT"
)

// MsgFile formats one listing entry.
func MsgFile(name string, size uint64) string {
	return fmt.Sprintf("FILE:%s:%d", name, size)
}

// MsgFilesEnd formats the listing end marker with the total count.
func MsgFilesEnd(count int) string {
	return fmt.Sprintf("FILES_END:%d", count)
}

// MsgAck formats the per-chunk acknowledgement carrying the running
// chunk count.
func MsgAck(count uint32) string {
	return fmt.Sprintf("ACK:%d", count)
}

// MsgUploadComplete formats the upload completion message with the
// stored size.
func MsgUploadComplete(size uint64) string {
	return fmt.Sprintf("OK:UPLOAD_COMPLETE:%d", size)
}

// MsgSizeMismatch formats the non-fatal size-mismatch warning with the
// actual stored size.
func MsgSizeMismatch(size uint64) string {
	return fmt.Sprintf("WARNING:SIZE_MISMATCH:%d", size)
}

// MsgDownloadStart formats the start-of-download message with the
// display name and total size.
func MsgDownloadStart(name string, size uint64) string {
	return fmt.Sprintf("DOWNLOAD_START:%s:%d", name, size)
}

// MsgChunk formats one numbered download chunk.
func MsgChunk(seq uint32, encoded string) string {
	return fmt.Sprintf("CHUNK:%d:%s", seq, encoded)
}

// MsgDownloadEnd formats the end-of-download message with the total
// bytes sent.
func MsgDownloadEnd(bytes uint64) string {
	return fmt.Sprintf("DOWNLOAD_END:%d", bytes)
}
