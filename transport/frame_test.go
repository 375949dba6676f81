package transport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JMRMEDEV/ev5-dev-tools/limits"
)

func TestEncodeFrame_PairingCodeLayout(t *testing.T) {
	data, err := EncodeFrame(PairPairingCode, []byte{0x01, 0xE2, 0x40})
	require.NoError(t, err)

	// Matches the 10-byte pairing probe the device firmware expects.
	want := []byte{0x78, 0xCD, 0x00, 0x0A, 0xCC, 0xDD, 0x01, 0xE2, 0x40, 0xBE}
	assert.Equal(t, want, data)
}

func TestEncodeFrame_LengthFieldIsBigEndian(t *testing.T) {
	payload := make([]byte, 3+1029)
	data, err := EncodeFrame(PairData, payload)
	require.NoError(t, err)

	assert.Equal(t, len(data), 7+len(payload))
	assert.Equal(t, byte(len(data)>>8), data[2])
	assert.Equal(t, byte(len(data)), data[3])
}

func TestEncodeFrame_TooLarge(t *testing.T) {
	_, err := EncodeFrame(PairData, make([]byte, limits.MaxOuterPayload+1))
	assert.ErrorIs(t, err, limits.ErrFrameTooLarge)
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		pair    CommandPair
		payload []byte
	}{
		{"empty payload", PairCommand, []byte{}},
		{"handshake", PairHandshake, []byte{0x01, 0xE2, 0x40, 192, 168, 1, 1}},
		{"payload containing delimiters", PairData, []byte{0x78, 0xCD, 0xBE, 0xBE}},
		{"large payload", PairData, bytes.Repeat([]byte{0x5A}, 4000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeFrame(tt.pair, tt.payload)
			require.NoError(t, err)

			frame, err := DecodeFrame(data)
			require.NoError(t, err)
			assert.Equal(t, tt.pair, frame.Pair)
			assert.Equal(t, tt.payload, frame.Payload)
		})
	}
}

func TestDecodeFrame_Rejects(t *testing.T) {
	valid, err := EncodeFrame(PairPairingAck, []byte{0x01, 0xE2, 0x40})
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		b := make([]byte, len(valid))
		copy(b, valid)
		return f(b)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"six bytes", []byte{0x78, 0xCD, 0x00, 0x06, 0xDD, 0xBE}},
		{"bad first magic", mutate(func(b []byte) []byte { b[0] = 0x79; return b })},
		{"bad second magic", mutate(func(b []byte) []byte { b[1] = 0x00; return b })},
		{"length too small", mutate(func(b []byte) []byte { b[3]--; return b })},
		{"length too large", mutate(func(b []byte) []byte { b[2] = 0x01; return b })},
		{"bad terminator", mutate(func(b []byte) []byte { b[len(b)-1] = 0xBF; return b })},
		{"truncated", valid[:len(valid)-1]},
		{"trailing garbage", append(mutate(func(b []byte) []byte { return b }), 0x00)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame(tt.data)
			assert.Nil(t, frame)
			assert.True(t, errors.Is(err, ErrMalformedFrame), "got %v", err)
		})
	}
}

func TestDecodeFrame_MinimumFrame(t *testing.T) {
	frame, err := DecodeFrame([]byte{0x78, 0xCD, 0x00, 0x07, 0xEE, 0xFF, 0xBE})
	require.NoError(t, err)
	assert.Equal(t, PairCommand, frame.Pair)
	assert.Empty(t, frame.Payload)
}

func TestDecodeFrame_PayloadIsCopied(t *testing.T) {
	data, err := EncodeFrame(PairCommand, []byte{1, 2, 3})
	require.NoError(t, err)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)

	data[6] = 0xFF
	assert.Equal(t, byte(1), frame.Payload[0])
}

func TestCommandPairString(t *testing.T) {
	assert.Equal(t, "0xAA,0x01", PairHandshake.String())
	assert.Equal(t, "0xFF,0xEE", PairCommandReply.String())
}
