package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxPairingCode is the largest code that fits the 24-bit wire field.
const MaxPairingCode = 0xFFFFFF

// PairingCode identifies the session to the device. It travels as a 24-bit
// big-endian prefix on every device payload.
type PairingCode uint32

// ParsePairingCode parses a decimal pairing code. Range is not checked here;
// see Validate.
func ParsePairingCode(s string) (PairingCode, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid pairing code %q: %w", s, err)
	}
	return PairingCode(v), nil
}

// Validate reports whether the code fits in 24 bits.
func (c PairingCode) Validate() error {
	if c > MaxPairingCode {
		return fmt.Errorf("pairing code %d exceeds 24 bits", uint32(c))
	}
	return nil
}

// Bytes returns the 24-bit big-endian wire form. Bits above 24 are dropped.
func (c PairingCode) Bytes() [PairingCodeSize]byte {
	return [PairingCodeSize]byte{byte(c >> 16), byte(c >> 8), byte(c)}
}

// Matches compares the first three bytes of b against the code.
func (c PairingCode) Matches(b []byte) bool {
	if len(b) < PairingCodeSize {
		return false
	}
	w := c.Bytes()
	return b[0] == w[0] && b[1] == w[1] && b[2] == w[2]
}

// Wrap prefixes an inner frame with the code, forming an outer payload.
func (c PairingCode) Wrap(inner []byte) []byte {
	w := c.Bytes()
	out := make([]byte, PairingCodeSize+len(inner))
	copy(out, w[:])
	copy(out[PairingCodeSize:], inner)
	return out
}

// DecodePairingCode reads a 24-bit big-endian code.
func DecodePairingCode(b []byte) (PairingCode, bool) {
	if len(b) < PairingCodeSize {
		return 0, false
	}
	return PairingCode(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])), true
}

// String returns the decimal form.
func (c PairingCode) String() string {
	return strconv.FormatUint(uint64(c), 10)
}
