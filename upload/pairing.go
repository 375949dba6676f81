package upload

import (
	"fmt"
	"net"

	"github.com/JMRMEDEV/ev5-dev-tools/protocol"
	"github.com/JMRMEDEV/ev5-dev-tools/transport"
	"github.com/sirupsen/logrus"
)

// Negotiator builds the pairing probes and recognises the device's
// handshake acknowledgment.
type Negotiator struct {
	code     protocol.PairingCode
	resolver transport.LocalEndpointResolver
}

// NewNegotiator creates a negotiator for code. A nil resolver falls back to
// the subnet guess.
func NewNegotiator(code protocol.PairingCode, resolver transport.LocalEndpointResolver) *Negotiator {
	if resolver == nil {
		resolver = transport.SubnetGuessResolver{}
	}
	return &Negotiator{code: code, resolver: resolver}
}

// Probes returns the pairing-code frame followed by the handshake frame,
// which announces the local IPv4 resolved for target.
func (n *Negotiator) Probes(target net.IP) ([]*transport.Frame, error) {
	local, err := n.resolver.ResolveLocalIP(target)
	if err != nil {
		return nil, fmt.Errorf("resolve local address: %w", err)
	}
	local4 := local.To4()
	if local4 == nil {
		return nil, fmt.Errorf("resolve local address: %s is not IPv4", local)
	}

	code := n.code.Bytes()

	handshake := make([]byte, 0, protocol.PairingCodeSize+net.IPv4len)
	handshake = append(handshake, code[:]...)
	handshake = append(handshake, local4...)

	logrus.WithFields(logrus.Fields{
		"function": "Probes",
		"target":   target.String(),
		"local_ip": local4.String(),
	}).Debug("Built pairing probes")

	return []*transport.Frame{
		{Pair: transport.PairPairingCode, Payload: code[:]},
		{Pair: transport.PairHandshake, Payload: handshake},
	}, nil
}

// Match reports whether frame is a handshake ack carrying this code and
// returns the address it came from.
func (n *Negotiator) Match(frame *transport.Frame, from net.Addr) (*net.UDPAddr, bool) {
	if frame == nil || from == nil {
		return nil, false
	}
	if frame.Pair != transport.PairPairingAck && frame.Pair != transport.PairHandshakeAck {
		return nil, false
	}

	if !n.code.Matches(frame.Payload) {
		got, _ := protocol.DecodePairingCode(frame.Payload)
		logrus.WithFields(logrus.Fields{
			"function": "Match",
			"from":     from.String(),
			"received": got.String(),
			"expected": n.code.String(),
		}).Debug("Ignoring handshake ack with foreign pairing code")
		return nil, false
	}

	peer, err := toUDPAddr(from)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Match",
			"from":     from.String(),
			"error":    err.Error(),
		}).Warn("Handshake ack from unusable address")
		return nil, false
	}

	return peer, true
}

func toUDPAddr(addr net.Addr) (*net.UDPAddr, error) {
	if udp, ok := addr.(*net.UDPAddr); ok {
		out := *udp
		return &out, nil
	}
	return net.ResolveUDPAddr("udp4", addr.String())
}
