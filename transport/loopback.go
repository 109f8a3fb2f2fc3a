package transport

import (
	"errors"
	"sync"
)

// ErrTransportClosed indicates a send on a closed transport.
var ErrTransportClosed = errors.New("transport is closed")

// Loopback is an in-memory Transport for tests and examples. The peer
// side injects command lines with PeerSend and observes outbound
// traffic through PeerLines, PeerProgress, or a line callback.
type Loopback struct {
	mu           sync.Mutex
	closed       bool
	lines        []string
	progress     []uint8
	onLine       func(line string)
	onCommand    CommandHandler
	onDisconnect DisconnectHandler
}

// NewLoopback creates an unconnected loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// SendLine records a response line and forwards it to the peer callback
// if one is set.
func (l *Loopback) SendLine(line string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrTransportClosed
	}
	l.lines = append(l.lines, line)
	cb := l.onLine
	l.mu.Unlock()

	if cb != nil {
		cb(line)
	}
	return nil
}

// SendProgress records a progress percentage.
func (l *Loopback) SendProgress(percent uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrTransportClosed
	}
	l.progress = append(l.progress, percent)
	return nil
}

// RegisterCommandHandler registers the inbound command handler.
func (l *Loopback) RegisterCommandHandler(handler CommandHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCommand = handler
}

// RegisterDisconnectHandler registers the disconnect handler.
func (l *Loopback) RegisterDisconnectHandler(handler DisconnectHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDisconnect = handler
}

// Close marks the transport closed. Further sends fail.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// PeerSend delivers one command line from the peer side.
func (l *Loopback) PeerSend(line string) {
	l.mu.Lock()
	handler := l.onCommand
	l.mu.Unlock()
	if handler != nil {
		handler(line)
	}
}

// PeerDisconnect simulates loss of the peer connection.
func (l *Loopback) PeerDisconnect() {
	l.mu.Lock()
	handler := l.onDisconnect
	l.mu.Unlock()
	if handler != nil {
		handler()
	}
}

// PeerOnLine sets a callback invoked for every outbound line.
func (l *Loopback) PeerOnLine(cb func(line string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLine = cb
}

// PeerLines returns a copy of all outbound lines so far.
func (l *Loopback) PeerLines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// PeerProgress returns a copy of all progress percentages so far.
func (l *Loopback) PeerProgress() []uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]uint8, len(l.progress))
	copy(out, l.progress)
	return out
}
