// Package codec implements the text-safe chunk encoding used on the wire.
//
// File bytes cross the transport inside line-oriented protocol messages,
// so each chunk is encoded to a representation that contains no line
// breaks and no protocol delimiter characters. The codec is stateless and
// operates on one chunk's bytes at a time; it knows nothing about chunk
// boundaries or file semantics.
//
// Example:
//
//	text := codec.Encode(chunk)
//	data, err := codec.Decode(text)
//	if err != nil {
//	    // malformed payload, ask the peer to resend
//	}
package codec
