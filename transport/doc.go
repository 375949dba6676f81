// Package transport provides the datagram layer of the EV5 Wi-Fi download
// protocol: the outer frame codec, a UDP transport, an in-memory transport
// for tests and simulation, and strategies for resolving the local endpoint
// announced in the pairing handshake.
//
// # Outer Frames
//
// Every datagram exchanged with the device is a single outer frame:
//
//	0x78 0xCD | len_hi len_lo | c1 c2 | payload ... | 0xBE
//
// The 16-bit big-endian length counts the whole frame including header and
// terminator. DecodeFrame rejects buffers shorter than seven bytes, wrong
// magic, a length field that disagrees with the buffer size, or a wrong
// terminator, returning an error wrapping ErrMalformedFrame:
//
//	frame, err := transport.DecodeFrame(datagram)
//	if errors.Is(err, transport.ErrMalformedFrame) {
//	    // drop it
//	}
//
// # Transports
//
// The Transport interface is satisfied by UDPTransport and MemoryTransport:
//
//	type Transport interface {
//	    Send(frame *Frame, addr net.Addr) error
//	    Close() error
//	    LocalAddr() net.Addr
//	    RegisterHandler(pair CommandPair, handler FrameHandler)
//	}
//
// Both decode inbound datagrams and dispatch them synchronously from one
// goroutine, so a handler sees frames in arrival order and never runs
// concurrently with itself. Malformed datagrams are logged and dropped; they
// never reach a handler. Handlers must not call Close.
//
// # Local Endpoint Resolution
//
// The handshake frame carries the host's IPv4 address. How that address is
// found is pluggable:
//
//   - SubnetGuessResolver: 192.168.<target third octet>.1
//   - InterfaceResolver: the interface address whose network contains the target
//   - StaticResolver: an operator-supplied address
//   - ChainResolver: first success of several strategies
package transport
