package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/JMRMEDEV/ev5-dev-tools/limits"
)

// Outer frame delimiters.
const (
	FrameMagic0     byte = 0x78
	FrameMagic1     byte = 0xCD
	FrameTerminator byte = 0xBE
)

// ErrMalformedFrame indicates a datagram failed the magic, length or
// terminator check. Such datagrams are dropped, never partially processed.
var ErrMalformedFrame = errors.New("malformed frame")

// CommandPair identifies the kind of an outer frame.
type CommandPair [2]byte

// Command pairs used by the Wi-Fi download protocol.
var (
	// Host to device.
	PairPairingCode = CommandPair{0xCC, 0xDD}
	PairHandshake   = CommandPair{0xAA, 0x01}
	PairCommand     = CommandPair{0xEE, 0xFF}
	PairData        = CommandPair{0xAA, 0x03}

	// Device to host.
	PairPairingAck   = CommandPair{0xDD, 0xCC}
	PairHandshakeAck = CommandPair{0x01, 0xAA}
	PairDataReply    = CommandPair{0x03, 0xAA}
	PairCommandReply = CommandPair{0xFF, 0xEE}
)

// String returns the pair as "0xAA,0x01".
func (c CommandPair) String() string {
	return fmt.Sprintf("0x%02X,0x%02X", c[0], c[1])
}

// Frame is an outer transport frame.
type Frame struct {
	Pair    CommandPair
	Payload []byte
}

// Encode converts a frame to its wire form.
func (f *Frame) Encode() ([]byte, error) {
	return EncodeFrame(f.Pair, f.Payload)
}

// EncodeFrame writes magic, total length, command pair, payload and terminator.
func EncodeFrame(pair CommandPair, payload []byte) ([]byte, error) {
	if err := limits.ValidateOuterPayload(payload); err != nil {
		return nil, err
	}

	total := limits.OuterOverhead + len(payload)
	buf := make([]byte, total)
	buf[0] = FrameMagic0
	buf[1] = FrameMagic1
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	buf[4] = pair[0]
	buf[5] = pair[1]
	copy(buf[6:], payload)
	buf[total-1] = FrameTerminator

	return buf, nil
}

// DecodeFrame parses a datagram into a Frame. The returned payload is a copy.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < limits.OuterOverhead {
		return nil, fmt.Errorf("%w: length %d below minimum %d", ErrMalformedFrame, len(data), limits.OuterOverhead)
	}
	if data[0] != FrameMagic0 || data[1] != FrameMagic1 {
		return nil, fmt.Errorf("%w: bad magic 0x%02X 0x%02X", ErrMalformedFrame, data[0], data[1])
	}
	declared := int(binary.BigEndian.Uint16(data[2:4]))
	if declared != len(data) {
		return nil, fmt.Errorf("%w: declared length %d, actual %d", ErrMalformedFrame, declared, len(data))
	}
	if data[len(data)-1] != FrameTerminator {
		return nil, fmt.Errorf("%w: bad terminator 0x%02X", ErrMalformedFrame, data[len(data)-1])
	}

	frame := &Frame{
		Pair:    CommandPair{data[4], data[5]},
		Payload: make([]byte, len(data)-limits.OuterOverhead),
	}
	copy(frame.Payload, data[6:len(data)-1])

	return frame, nil
}
