// Package protocol implements the wire protocol spoken with the peer:
// command parsing, response formatting, and the dispatcher that drives
// the transfer session.
//
// Commands arrive as text lines of the form CMD:<verb>[:<args>] and are
// parsed into Command values with no side effects. The Dispatcher owns
// the control flow: it parses each inbound line, drives the single
// transfer session, and converts every session or storage failure into
// exactly one wire response at this boundary. No error propagates past
// the dispatcher.
//
// Responses are line-oriented status/data messages; transfer progress is
// reported separately as single-byte percentages on the transport's
// progress channel.
package protocol
