package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrCodeMismatch indicates the payload carries a different pairing code.
	ErrCodeMismatch = errors.New("pairing code mismatch")

	// ErrShortResponse indicates an inner frame too short for its command.
	ErrShortResponse = errors.New("inner frame too short")

	// ErrBadMagic indicates the inner frame does not start with 0x56 0xAB.
	ErrBadMagic = errors.New("inner frame magic mismatch")

	// ErrBadTerminator indicates the inner frame does not end with 0xCF.
	ErrBadTerminator = errors.New("inner frame terminator mismatch")
)

// ChecksumError reports an inner frame whose checksum byte is wrong.
type ChecksumError struct {
	// Command is set for configuration commands.
	Command Command
	// Page is the page index for data frames.
	Page     int
	Expected byte
	Actual   byte
}

func (e *ChecksumError) Error() string {
	if e.Command == 0 {
		return fmt.Sprintf("data frame checksum mismatch for page %d: expected 0x%02X, got 0x%02X",
			e.Page, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s checksum mismatch: expected 0x%02X, got 0x%02X",
		e.Command, e.Expected, e.Actual)
}
