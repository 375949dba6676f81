package upload

import (
	"github.com/JMRMEDEV/ev5-dev-tools/firmware"
	"github.com/JMRMEDEV/ev5-dev-tools/protocol"
)

// PageEngine streams the pages of an image in strict order. A page is
// acknowledged when the device echoes its checksum; only then does the
// engine move on.
type PageEngine struct {
	image        *firmware.Image
	total        int
	acked        int
	lastChecksum byte
	pending      bool
}

// NewPageEngine creates an engine positioned at page 0.
func NewPageEngine(image *firmware.Image) *PageEngine {
	return &PageEngine{
		image: image,
		total: image.PageCount(),
	}
}

// Next builds the data frame for the current page and records its checksum
// as the one the next ack must carry. Calling Next again before an ack
// rebuilds the same frame. It returns false when all pages are done.
func (e *PageEngine) Next() ([]byte, bool) {
	if e.Done() {
		return nil, false
	}

	page, err := e.image.Page(e.acked)
	if err != nil {
		return nil, false
	}

	frame, sum := protocol.DataPage(uint16(e.acked), page)
	e.lastChecksum = sum
	e.pending = true
	return frame, true
}

// Acknowledge consumes a page checksum ack. On match the engine advances;
// on mismatch it stays on the same page and returns a
// *ChecksumMismatchError. Acks with nothing in flight are ignored.
func (e *PageEngine) Acknowledge(checksum byte) error {
	if !e.pending {
		return nil
	}
	if checksum != e.lastChecksum {
		return &ChecksumMismatchError{
			Page:     e.acked,
			Expected: e.lastChecksum,
			Actual:   checksum,
		}
	}
	e.pending = false
	e.acked++
	return nil
}

// Done reports whether every page has been acknowledged.
func (e *PageEngine) Done() bool {
	return e.acked >= e.total
}

// Current is the index of the page in flight or next to send.
func (e *PageEngine) Current() int {
	return e.acked
}

// Total is the page count.
func (e *PageEngine) Total() int {
	return e.total
}

// Percentage returns acknowledged pages as a percentage.
func (e *PageEngine) Percentage() float64 {
	if e.total == 0 {
		return 100
	}
	return float64(e.acked) * 100 / float64(e.total)
}
