package transport

import (
	"net"
)

// FrameHandler is a function that processes incoming frames.
type FrameHandler func(frame *Frame, addr net.Addr) error

// Transport defines the interface for datagram transports used by the
// uploader. This abstraction allows the UDP socket and the in-memory
// transport to be used interchangeably.
type Transport interface {
	// Send encodes a frame and sends it to the specified address.
	Send(frame *Frame, addr net.Addr) error

	// Close shuts down the transport. No handler runs after Close returns.
	Close() error

	// LocalAddr returns the local address the transport is listening on.
	LocalAddr() net.Addr

	// RegisterHandler registers a handler for a specific command pair.
	RegisterHandler(pair CommandPair, handler FrameHandler)
}
