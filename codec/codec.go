package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecode indicates that a chunk payload is not valid encoded data.
var ErrDecode = errors.New("chunk payload is not valid base64")

// ErrChunkTooLarge indicates that a decoded chunk exceeds the maximum
// allowed size.
var ErrChunkTooLarge = errors.New("chunk size exceeds maximum allowed")

// Encode converts opaque chunk bytes to their wire representation.
// The output is standard base64, which contains neither line breaks nor
// the ':' command delimiter, so it can be embedded in a protocol line.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode converts a wire payload back to the original chunk bytes.
// Malformed input returns ErrDecode; the codec never silently truncates
// or substitutes data.
func Decode(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return data, nil
}

// DecodeBounded decodes a wire payload and rejects chunks whose decoded
// length exceeds max. Peers that disagree on the chunk size constant
// produce oversized chunks; those are refused explicitly with
// ErrChunkTooLarge rather than written through to storage. The length
// check runs before decoding, so an oversized payload is never buffered.
func DecodeBounded(text string, max int) ([]byte, error) {
	if max > 0 && base64.StdEncoding.DecodedLen(len(text)) > max+2 {
		// DecodedLen overestimates by up to two padding bytes, hence
		// the slack; exact enforcement happens after decoding.
		return nil, ErrChunkTooLarge
	}
	data, err := Decode(text)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(data) > max {
		return nil, ErrChunkTooLarge
	}
	return data, nil
}
