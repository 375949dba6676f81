package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// fatEpochYear is the base year of packed FAT dates.
const fatEpochYear = 1980

// EncodeCommand builds a 13-byte configuration command:
//
//	0x56 0xAB code field[8] checksum 0xCF
func EncodeCommand(cmd Command, fields [FieldSize]byte, rule ChecksumRule) []byte {
	frame := make([]byte, CommandFrameSize)
	frame[0] = InnerMagic0
	frame[1] = InnerMagic1
	frame[2] = byte(cmd)
	copy(frame[3:3+FieldSize], fields[:])
	frame[11] = rule(cmd, fields)
	frame[12] = InnerTerminator
	return frame
}

// DeviceTypeQuery asks the device for its type. Checksum is the literal 2.
func DeviceTypeQuery() []byte {
	return EncodeCommand(CmdDeviceTypeQuery, [FieldSize]byte{}, FixedChecksum(byte(CmdDeviceTypeQuery)))
}

// FileNameField returns the 8-byte space-padded name with any ".bin"
// suffix removed. Longer names are truncated.
func FileNameField(name string) [FileNameSize]byte {
	var field [FileNameSize]byte
	for i := range field {
		field[i] = ' '
	}
	copy(field[:], strings.TrimSuffix(name, ".bin"))
	return field
}

// FileName announces the image name. Checksum is 7 plus the name bytes.
func FileName(name string) []byte {
	return EncodeCommand(CmdFileName, FileNameField(name), AdditiveChecksum)
}

// PackFATTime returns (hour<<11)|(minute<<5). Seconds are not encoded.
func PackFATTime(t time.Time) uint16 {
	return uint16(t.Hour())<<11 | uint16(t.Minute())<<5
}

// PackFATDate returns ((year-1980)<<9)|(month<<5)|day. Years before 1980
// are clamped to the epoch.
func PackFATDate(t time.Time) uint16 {
	years := t.Year() - fatEpochYear
	if years < 0 {
		years = 0
	}
	return uint16(years)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
}

// FileDate announces the image timestamp as little-endian FAT time then
// date. Checksum is 8 plus the four date/time bytes.
func FileDate(t time.Time) []byte {
	var fields [FieldSize]byte
	binary.LittleEndian.PutUint16(fields[0:2], PackFATTime(t))
	binary.LittleEndian.PutUint16(fields[2:4], PackFATDate(t))
	return EncodeCommand(CmdFileDate, fields, AdditiveChecksum)
}

// PageSize announces the page size as little-endian 16-bit. Checksum is
// 9 plus both size bytes.
func PageSize(size uint16) []byte {
	var fields [FieldSize]byte
	binary.LittleEndian.PutUint16(fields[0:2], size)
	return EncodeCommand(CmdPageSize, fields, AdditiveChecksum)
}

// PageSum announces the page total as little-endian 16-bit, with the
// checksum computed by PageSumChecksum.
func PageSum(total uint32) []byte {
	var fields [FieldSize]byte
	fields[0] = byte(total)
	fields[1] = byte(total >> 8)
	return EncodeCommand(CmdPageSum, fields, PageSumChecksum(total))
}

// StartDownload asks the device to begin accepting pages. Checksum is the
// literal 4.
func StartDownload() []byte {
	return EncodeCommand(CmdStartDownload, [FieldSize]byte{}, FixedChecksum(byte(CmdStartDownload)))
}

// EnterUserSpace switches the device into user-space download mode. It is
// a short frame without checksum or terminator.
func EnterUserSpace() []byte {
	return []byte{InnerMagic0, InnerMagic1, byte(CmdDeviceMode), ModeUserSpace, 0x00, 0x00}
}

// DataPage builds the data frame for one page:
//
//	0x56 0xAB index_lo index_hi page[...] checksum 0xCF
//
// It returns the frame and the plain page checksum the device echoes back.
func DataPage(index uint16, page []byte) ([]byte, byte) {
	pageSum := PageChecksum(page)

	frame := make([]byte, DataFrameOverhead+len(page))
	frame[0] = InnerMagic0
	frame[1] = InnerMagic1
	binary.LittleEndian.PutUint16(frame[2:4], index)
	copy(frame[4:], page)
	frame[len(frame)-2] = DataFrameChecksum(pageSum, index)
	frame[len(frame)-1] = InnerTerminator

	return frame, pageSum
}

// Request is a host command as seen by the device.
type Request struct {
	Command  Command
	Fields   [FieldSize]byte
	Checksum byte
	// Mode is set for the short device-mode frame.
	Mode byte
	// Short is true for the 6-byte device-mode frame.
	Short bool
}

// ParseRequest parses a host command payload (code prefix + inner frame).
// Checksums are verified with the additive rule, which every command rule
// reduces to for page totals within limits.
func ParseRequest(payload []byte, code PairingCode) (*Request, error) {
	inner, err := unwrap(payload, code)
	if err != nil {
		return nil, err
	}

	if len(inner) == 6 && Command(inner[2]) == CmdDeviceMode {
		return &Request{Command: CmdDeviceMode, Mode: inner[3], Short: true}, nil
	}

	if len(inner) != CommandFrameSize {
		return nil, fmt.Errorf("%w: command frame is %d bytes", ErrShortResponse, len(inner))
	}
	if inner[CommandFrameSize-1] != InnerTerminator {
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadTerminator, inner[CommandFrameSize-1])
	}

	req := &Request{Command: Command(inner[2]), Checksum: inner[11]}
	copy(req.Fields[:], inner[3:11])

	if want := AdditiveChecksum(req.Command, req.Fields); want != req.Checksum {
		return nil, &ChecksumError{Command: req.Command, Expected: want, Actual: req.Checksum}
	}

	return req, nil
}

// ParseDataPage parses a data frame payload and returns the page index and
// page bytes after verifying the frame checksum.
func ParseDataPage(payload []byte, code PairingCode) (uint16, []byte, error) {
	inner, err := unwrap(payload, code)
	if err != nil {
		return 0, nil, err
	}
	if len(inner) < DataFrameOverhead {
		return 0, nil, fmt.Errorf("%w: data frame is %d bytes", ErrShortResponse, len(inner))
	}
	if inner[len(inner)-1] != InnerTerminator {
		return 0, nil, fmt.Errorf("%w: 0x%02X", ErrBadTerminator, inner[len(inner)-1])
	}

	index := binary.LittleEndian.Uint16(inner[2:4])
	page := make([]byte, len(inner)-DataFrameOverhead)
	copy(page, inner[4:len(inner)-2])

	got := inner[len(inner)-2]
	if want := DataFrameChecksum(PageChecksum(page), index); want != got {
		return 0, nil, &ChecksumError{Expected: want, Actual: got, Page: int(index)}
	}

	return index, page, nil
}
