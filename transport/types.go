package transport

// CommandHandler processes one inbound command line from the peer.
type CommandHandler func(line string)

// DisconnectHandler is invoked when the peer connection is lost.
type DisconnectHandler func()

// Transport is the peer link consumed by the protocol core.
type Transport interface {
	// SendLine sends one response line to the peer.
	SendLine(line string) error

	// SendProgress sends a progress percentage (0-100) on the
	// dedicated progress channel.
	SendProgress(percent uint8) error

	// RegisterCommandHandler registers the handler for inbound
	// command lines.
	RegisterCommandHandler(handler CommandHandler)

	// RegisterDisconnectHandler registers the handler for peer
	// disconnection events.
	RegisterDisconnectHandler(handler DisconnectHandler)

	// Close shuts down the transport.
	Close() error
}
