package protocol

import (
	"fmt"
)

// Response is a device reply as seen by the host. Parsing is tolerant:
// only the code prefix, the inner magic and the bytes the command needs are
// checked. Unknown commands are returned with Command set and no fields.
type Response struct {
	Command    Command
	DeviceType byte
	// HasDeviceType is false for a bare device type reply, which still
	// counts as an answer to the query.
	HasDeviceType bool
	Status        Status
	Checksum      byte
}

// IsStatus reports whether r is a CmdStatus reply with status s.
func (r *Response) IsStatus(s Status) bool {
	return r != nil && r.Command == CmdStatus && r.Status == s
}

// ParseResponse parses a device reply payload (code prefix + inner frame).
func ParseResponse(payload []byte, code PairingCode) (*Response, error) {
	inner, err := unwrap(payload, code)
	if err != nil {
		return nil, err
	}

	resp := &Response{Command: Command(inner[2])}

	switch resp.Command {
	case CmdDeviceTypeReply:
		if len(inner) > 3 {
			resp.DeviceType = inner[3]
			resp.HasDeviceType = true
		}
	case CmdStatus:
		if len(inner) < 4 {
			return nil, fmt.Errorf("%w: status reply is %d bytes", ErrShortResponse, len(inner))
		}
		resp.Status = Status(inner[3])
		if resp.Status == StatusPageChecksum {
			if len(inner) < 5 {
				return nil, fmt.Errorf("%w: page checksum reply is %d bytes", ErrShortResponse, len(inner))
			}
			resp.Checksum = inner[4]
		}
	}

	return resp, nil
}

// DeviceTypeReply builds the device's answer to DeviceTypeQuery.
func DeviceTypeReply(deviceType byte) []byte {
	return []byte{InnerMagic0, InnerMagic1, byte(CmdDeviceTypeReply), deviceType, InnerTerminator}
}

// StatusReply builds a CmdStatus reply.
func StatusReply(status Status) []byte {
	return []byte{InnerMagic0, InnerMagic1, byte(CmdStatus), byte(status), InnerTerminator}
}

// PageChecksumReply builds the device's acknowledgment of a data page.
func PageChecksumReply(checksum byte) []byte {
	return []byte{InnerMagic0, InnerMagic1, byte(CmdStatus), byte(StatusPageChecksum), checksum, InnerTerminator}
}

// unwrap checks the code prefix and inner magic and returns the inner frame.
func unwrap(payload []byte, code PairingCode) ([]byte, error) {
	if len(payload) < PairingCodeSize {
		return nil, fmt.Errorf("%w: payload is %d bytes", ErrShortResponse, len(payload))
	}
	if !code.Matches(payload) {
		got, _ := DecodePairingCode(payload)
		return nil, fmt.Errorf("%w: got %d, want %d", ErrCodeMismatch, uint32(got), uint32(code))
	}

	inner := payload[PairingCodeSize:]
	if len(inner) < MinResponseSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortResponse, len(inner))
	}
	if inner[0] != InnerMagic0 || inner[1] != InnerMagic1 {
		return nil, fmt.Errorf("%w: 0x%02X 0x%02X", ErrBadMagic, inner[0], inner[1])
	}

	return inner, nil
}
