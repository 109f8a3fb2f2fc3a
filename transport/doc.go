// Package transport defines the peer link consumed by the protocol core,
// together with development implementations.
//
// The real deployment target is a short-range wireless link with a
// write characteristic for inbound command lines, a notify characteristic
// for outbound response lines, and a second notify characteristic that
// carries single-byte progress percentages. The core never touches the
// link directly; it sends through the Transport interface and receives
// inbound commands and disconnect events through registered handlers.
//
// Two implementations are provided:
//
//   - Loopback: an in-memory pair for tests and examples.
//   - TCPTransport: a newline-framed TCP substitute for bench work
//     without radio hardware. Progress bytes are framed as PROGRESS:<n>
//     lines since TCP offers a single stream rather than separate
//     characteristics.
//
// Delivery is assumed in-order and intact (the link layer's job);
// no acknowledgement of delivery is assumed beyond acceptance by the
// transport.
package transport
