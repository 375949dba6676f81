package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	code := PairingCode(123456)

	tests := []struct {
		name    string
		payload []byte
		want    *Response
		wantErr error
	}{
		{
			name:    "device type",
			payload: code.Wrap(DeviceTypeReply(0x21)),
			want:    &Response{Command: CmdDeviceTypeReply, DeviceType: 0x21, HasDeviceType: true},
		},
		{
			name:    "bare device type reply",
			payload: code.Wrap([]byte{0x56, 0xAB, 0x03}),
			want:    &Response{Command: CmdDeviceTypeReply},
		},
		{
			name:    "accepted",
			payload: code.Wrap(StatusReply(StatusAccepted)),
			want:    &Response{Command: CmdStatus, Status: StatusAccepted},
		},
		{
			name:    "ready",
			payload: code.Wrap(StatusReply(StatusReady)),
			want:    &Response{Command: CmdStatus, Status: StatusReady},
		},
		{
			name:    "page checksum",
			payload: code.Wrap(PageChecksumReply(0x7E)),
			want:    &Response{Command: CmdStatus, Status: StatusPageChecksum, Checksum: 0x7E},
		},
		{
			name:    "unknown command is returned",
			payload: code.Wrap([]byte{0x56, 0xAB, 0x42}),
			want:    &Response{Command: 0x42},
		},
		{
			name:    "status without terminator is tolerated",
			payload: code.Wrap([]byte{0x56, 0xAB, 0x05, 0x01}),
			want:    &Response{Command: CmdStatus, Status: StatusAccepted},
		},
		{
			name:    "wrong code",
			payload: PairingCode(654321).Wrap(StatusReply(StatusAccepted)),
			wantErr: ErrCodeMismatch,
		},
		{
			name:    "no code",
			payload: []byte{0x01},
			wantErr: ErrShortResponse,
		},
		{
			name:    "bad magic",
			payload: code.Wrap([]byte{0x57, 0xAB, 0x05, 0x01}),
			wantErr: ErrBadMagic,
		},
		{
			name:    "status missing argument",
			payload: code.Wrap([]byte{0x56, 0xAB, 0x05}),
			wantErr: ErrShortResponse,
		},
		{
			name:    "page checksum missing",
			payload: code.Wrap([]byte{0x56, 0xAB, 0x05, 0x04}),
			wantErr: ErrShortResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseResponse(tt.payload, code)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp)
		})
	}
}

func TestResponseIsStatus(t *testing.T) {
	var nilResp *Response
	assert.False(t, nilResp.IsStatus(StatusAccepted))

	r := &Response{Command: CmdStatus, Status: StatusReady}
	assert.True(t, r.IsStatus(StatusReady))
	assert.False(t, r.IsStatus(StatusAccepted))

	r = &Response{Command: CmdDeviceTypeReply, Status: StatusAccepted}
	assert.False(t, r.IsStatus(StatusAccepted))
}
