package protocol

import (
	"strconv"
	"strings"
)

// CommandKind identifies the parsed form of an inbound line.
type CommandKind uint8

const (
	// CmdUnknown is any line that matches no recognized form.
	CmdUnknown CommandKind = iota
	// CmdList requests the file listing.
	CmdList
	// CmdDelete requests removal of a named file.
	CmdDelete
	// CmdUploadStart opens an upload of a declared size.
	CmdUploadStart
	// CmdUploadStartInvalid is a malformed upload-start line.
	CmdUploadStartInvalid
	// CmdUploadChunk carries one encoded chunk of an upload.
	CmdUploadChunk
	// CmdDownload requests a file download.
	CmdDownload
	// CmdPing is a liveness probe.
	CmdPing
)

// String returns the wire verb for the command kind.
func (k CommandKind) String() string {
	switch k {
	case CmdList:
		return "LIST"
	case CmdDelete:
		return "DELETE"
	case CmdUploadStart:
		return "UPLOAD_START"
	case CmdUploadStartInvalid:
		return "UPLOAD_START_INVALID"
	case CmdUploadChunk:
		return "UPLOAD_CHUNK"
	case CmdDownload:
		return "DOWNLOAD"
	case CmdPing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// Command is the typed form of one inbound line. It is immutable once
// parsed; a fresh value is produced per line.
type Command struct {
	Kind CommandKind

	// Name is the file name argument of DELETE, UPLOAD_START and
	// DOWNLOAD commands.
	Name string

	// TotalSize is the declared byte count of an UPLOAD_START.
	TotalSize uint64

	// Payload is the still-encoded chunk text of an UPLOAD_CHUNK.
	Payload string

	// Raw is the original line, kept for unknown commands.
	Raw string
}

// Command line prefixes.
const (
	cmdList        = "CMD:LIST"
	cmdPing        = "CMD:PING"
	prefixDelete   = "CMD:DELETE:"
	prefixUpStart  = "CMD:UPLOAD_START:"
	prefixUpChunk  = "CMD:UPLOAD_CHUNK:"
	prefixDownload = "CMD:DOWNLOAD:"
)

// ParseCommand turns one raw line into a Command. It never fails: lines
// that match no recognized form come back as CmdUnknown, and a malformed
// UPLOAD_START comes back as CmdUploadStartInvalid so the dispatcher can
// answer it explicitly without any state change.
func ParseCommand(line string) Command {
	switch {
	case line == cmdList:
		return Command{Kind: CmdList}

	case line == cmdPing:
		return Command{Kind: CmdPing}

	case strings.HasPrefix(line, prefixDelete):
		return Command{Kind: CmdDelete, Name: line[len(prefixDelete):]}

	case strings.HasPrefix(line, prefixUpStart):
		return parseUploadStart(line[len(prefixUpStart):])

	case strings.HasPrefix(line, prefixUpChunk):
		// The payload may itself contain colons; it is not split further.
		return Command{Kind: CmdUploadChunk, Payload: line[len(prefixUpChunk):]}

	case strings.HasPrefix(line, prefixDownload):
		return Command{Kind: CmdDownload, Name: line[len(prefixDownload):]}

	default:
		return Command{Kind: CmdUnknown, Raw: line}
	}
}

// parseUploadStart splits "<name>:<size>". The separator is the last
// colon so names containing colons still parse; a missing separator or a
// non-numeric size is a malformed command, not an UploadStart.
func parseUploadStart(rest string) Command {
	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return Command{Kind: CmdUploadStartInvalid, Raw: rest}
	}

	size, err := strconv.ParseUint(rest[idx+1:], 10, 64)
	if err != nil {
		return Command{Kind: CmdUploadStartInvalid, Raw: rest}
	}

	return Command{Kind: CmdUploadStart, Name: rest[:idx], TotalSize: size}
}
