package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// TCPTransport serves the protocol over a newline-framed TCP connection.
// It accepts one peer at a time, matching the single-session design of
// the protocol core; a new connection replaces the previous one.
type TCPTransport struct {
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	mu           sync.Mutex
	conn         net.Conn
	onCommand    CommandHandler
	onDisconnect DisconnectHandler
}

// NewTCPTransport creates a TCP transport listening on listenAddr and
// starts accepting connections.
func NewTCPTransport(listenAddr string) (*TCPTransport, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &TCPTransport{
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewTCPTransport",
		"address":  listener.Addr().String(),
	}).Info("TCP transport listening")

	go t.acceptLoop()

	return t, nil
}

// LocalAddr returns the address the transport is listening on.
func (t *TCPTransport) LocalAddr() net.Addr {
	return t.listener.Addr()
}

// RegisterCommandHandler registers the inbound command handler.
func (t *TCPTransport) RegisterCommandHandler(handler CommandHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommand = handler
}

// RegisterDisconnectHandler registers the disconnect handler.
func (t *TCPTransport) RegisterDisconnectHandler(handler DisconnectHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = handler
}

// SendLine writes one response line to the connected peer.
func (t *TCPTransport) SendLine(line string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrTransportClosed
	}
	_, err := fmt.Fprintf(conn, "%s\n", line)
	return err
}

// SendProgress frames a progress percentage as a PROGRESS line. TCP
// offers a single stream, so the separate progress characteristic of the
// wireless link is emulated in-band.
func (t *TCPTransport) SendProgress(percent uint8) error {
	return t.SendLine(fmt.Sprintf("PROGRESS:%d", percent))
}

// Close stops accepting connections and drops the current peer.
func (t *TCPTransport) Close() error {
	t.cancel()

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return t.listener.Close()
}

// acceptLoop accepts peers one at a time and reads their command lines.
func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"error":    err.Error(),
			}).Warn("Failed to accept connection")
			continue
		}

		t.mu.Lock()
		previous := t.conn
		t.conn = conn
		t.mu.Unlock()

		if previous != nil {
			previous.Close()
		}

		logrus.WithFields(logrus.Fields{
			"function": "acceptLoop",
			"peer":     conn.RemoteAddr().String(),
		}).Info("Peer connected")

		t.readLoop(conn)
	}
}

// readLoop delivers command lines until the connection drops, then fires
// the disconnect handler.
func (t *TCPTransport) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		t.mu.Lock()
		handler := t.onCommand
		t.mu.Unlock()

		if handler != nil {
			handler(line)
		}
	}

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	onDisconnect := t.onDisconnect
	t.mu.Unlock()

	conn.Close()

	logrus.WithFields(logrus.Fields{
		"function": "readLoop",
		"peer":     conn.RemoteAddr().String(),
	}).Info("Peer disconnected")

	if onDisconnect != nil {
		onDisconnect()
	}
}
