// Package limits provides centralized wire size limits for the EV5 Wi-Fi
// download protocol. This ensures consistent validation across the frame
// codec, the image loader and the page transfer engine.
package limits

import (
	"errors"
	"fmt"
)

const (
	// OuterOverhead is the number of bytes an outer frame adds around its
	// payload: 2 magic, 2 length, 2 command pair, 1 terminator.
	OuterOverhead = 7

	// MaxOuterFrame is the largest encodable outer frame. The length field is
	// a 16-bit big-endian integer covering the whole frame.
	MaxOuterFrame = 0xFFFF

	// MaxOuterPayload is the largest payload that fits in one outer frame.
	MaxOuterPayload = MaxOuterFrame - OuterOverhead

	// PageSize is the unit of transfer and acknowledgment on the device.
	PageSize = 1024

	// MaxPages is the largest page total the SetPageSum command can carry
	// (little-endian 16-bit field).
	MaxPages = 0xFFFF

	// MaxImageSize is the largest image that can be described to the device.
	MaxImageSize = MaxPages * PageSize

	// MaxDatagram is the receive buffer size used for inbound datagrams.
	MaxDatagram = 2048
)

var (
	// ErrFrameTooLarge indicates a frame would not fit the 16-bit length field
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrImageTooLarge indicates an image needs more pages than the device accepts
	ErrImageTooLarge = errors.New("image too large")
)

// ValidateOuterPayload checks that a payload fits into a single outer frame.
func ValidateOuterPayload(payload []byte) error {
	if len(payload) > MaxOuterPayload {
		return fmt.Errorf("%w: payload size %d exceeds limit %d", ErrFrameTooLarge, len(payload), MaxOuterPayload)
	}
	return nil
}

// ValidateImageSize checks that an image of the given size can be
// described with a 16-bit page count.
func ValidateImageSize(size int) error {
	if size > MaxImageSize {
		return fmt.Errorf("%w: image size %d exceeds limit %d", ErrImageTooLarge, size, MaxImageSize)
	}
	return nil
}

// PageCount returns ceil(size / PageSize).
func PageCount(size int) int {
	if size <= 0 {
		return 0
	}
	return (size + PageSize - 1) / PageSize
}
