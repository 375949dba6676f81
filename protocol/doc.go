// Package protocol implements the device-command layer of the EV5 Wi-Fi
// download protocol: the inner frames carried inside outer transport frames.
//
// # Frame Layout
//
// Every device payload starts with the 24-bit big-endian pairing code,
// followed by an inner frame. Configuration commands are fixed 13-byte
// frames:
//
//	0x56 0xAB code field[8] checksum 0xCF
//
// Data frames carry one page:
//
//	0x56 0xAB index_lo index_hi page[1024] checksum 0xCF
//
// # Checksum Rules
//
// The checksum is the low byte of an additive sum, but the bytes it covers
// differ per command:
//
//	cmd 2  device type query   literal 2
//	cmd 7  file name           7 + name bytes
//	cmd 8  file date           8 + time_lo + time_hi + date_lo + date_hi
//	cmd 9  page size           9 + size_lo + size_hi
//	cmd 6  page sum            (total + (total >> 8) + 6) & 0xFF
//	cmd 4  start download      literal 4
//	data   page                sum(page) + index_lo + index_hi
//
// The page sum rule is computed on the full total rather than on its
// encoded bytes; builders keep each rule literal.
//
// # Replies
//
// ParseResponse accepts device replies tolerantly. It validates the code
// prefix, the inner magic and the minimum length for the reply kind; unknown
// command codes are returned for the caller to ignore.
//
//	resp, err := protocol.ParseResponse(frame.Payload, code)
//	if err == nil && resp.IsStatus(protocol.StatusAccepted) {
//	    // advance
//	}
//
// ParseRequest, ParseDataPage and the reply builders implement the device
// side of the exchange for simulation.
package protocol
