// Package limits provides centralized size constants and validation functions
// for the EV5 Wi-Fi download protocol.
//
// # Size Hierarchy
//
//   - OuterOverhead (7 bytes): magic, 16-bit length, command pair and terminator
//     wrapped around every outer frame payload.
//
//   - MaxOuterFrame (65535 bytes): the outer length field is 16 bits wide and
//     counts the whole encoded frame.
//
//   - PageSize (1024 bytes): the unit in which images are streamed to the
//     device. The last page of an image is zero-padded to this size.
//
//   - MaxPages (65535): the page total is announced to the device in a
//     little-endian 16-bit field, which bounds the image at MaxImageSize.
//
// # Validation Functions
//
//	if err := limits.ValidateOuterPayload(payload); err != nil {
//	    // errors.Is(err, limits.ErrFrameTooLarge)
//	}
//
//	if err := limits.ValidateImageSize(len(image)); err != nil {
//	    // errors.Is(err, limits.ErrImageTooLarge)
//	}
package limits
