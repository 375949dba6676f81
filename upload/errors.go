package upload

import (
	"errors"
	"fmt"

	"github.com/JMRMEDEV/ev5-dev-tools/firmware"
)

// ErrFileNotFound indicates the image path does not exist.
var ErrFileNotFound = firmware.ErrFileNotFound

// ErrPairingTimeout indicates no matching handshake ack arrived in time.
var ErrPairingTimeout = errors.New("pairing timeout: device did not acknowledge the pairing code")

// ErrUploadTimeout indicates the overall upload ceiling was exceeded.
var ErrUploadTimeout = errors.New("upload timeout: transfer did not finish in time")

// ErrInvalidTarget indicates the target is not an IPv4 address.
var ErrInvalidTarget = errors.New("target is not a valid IPv4 address")

// ErrSessionClosed is returned when the session was torn down underneath a
// caller, for example when the transport failed.
var ErrSessionClosed = errors.New("upload session closed")

// ChecksumMismatchError indicates the device echoed a page checksum other
// than the one computed for the page last sent.
type ChecksumMismatchError struct {
	Page     int
	Expected byte
	Actual   byte
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for page %d: expected 0x%02X, got 0x%02X",
		e.Page, e.Expected, e.Actual)
}
