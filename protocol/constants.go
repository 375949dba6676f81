package protocol

// Inner frame delimiters.
const (
	InnerMagic0     byte = 0x56
	InnerMagic1     byte = 0xAB
	InnerTerminator byte = 0xCF
)

// Inner frame sizes.
const (
	// CommandFrameSize is the fixed size of a configuration command:
	// magic(2) code(1) fields(8) checksum(1) terminator(1).
	CommandFrameSize = 13

	// FieldSize is the size of the command-specific field block.
	FieldSize = 8

	// DataFrameOverhead is what a data frame adds around one page:
	// magic(2) index(2) checksum(1) terminator(1).
	DataFrameOverhead = 6

	// PairingCodeSize is the width of the code prefix on device payloads.
	PairingCodeSize = 3

	// MinResponseSize is magic(2) plus a command code.
	MinResponseSize = 3

	// FileNameSize is the width of the space-padded file name field.
	FileNameSize = 8
)

// Command is an inner frame command code.
type Command byte

// Command codes. Host requests and device replies share one numbering.
const (
	CmdDeviceTypeQuery Command = 0x02
	CmdDeviceTypeReply Command = 0x03
	CmdStartDownload   Command = 0x04
	CmdStatus          Command = 0x05
	CmdPageSum         Command = 0x06
	CmdFileName        Command = 0x07
	CmdFileDate        Command = 0x08
	CmdPageSize        Command = 0x09
)

// CmdDeviceMode shares its code with CmdPageSum; the device tells them
// apart by the 0xFE mode byte and the short frame.
const CmdDeviceMode = CmdPageSum

// ModeUserSpace is the device-mode argument selecting user-space download.
const ModeUserSpace byte = 0xFE

// String returns a human-readable command name.
func (c Command) String() string {
	switch c {
	case CmdDeviceTypeQuery:
		return "device-type-query"
	case CmdDeviceTypeReply:
		return "device-type-reply"
	case CmdStartDownload:
		return "start-download"
	case CmdStatus:
		return "status"
	case CmdPageSum:
		return "page-sum"
	case CmdFileName:
		return "file-name"
	case CmdFileDate:
		return "file-date"
	case CmdPageSize:
		return "page-size"
	default:
		return "unknown"
	}
}

// Status is the first argument byte of a CmdStatus reply.
type Status byte

// Status codes sent by the device in CmdStatus replies.
const (
	// StatusAccepted acknowledges a configuration command.
	StatusAccepted Status = 0x01
	// StatusReady acknowledges the start command.
	StatusReady Status = 0x03
	// StatusPageChecksum carries the checksum of the last received page.
	StatusPageChecksum Status = 0x04
)
