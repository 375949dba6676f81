package upload

import (
	"time"

	"github.com/JMRMEDEV/ev5-dev-tools/limits"
	"github.com/JMRMEDEV/ev5-dev-tools/protocol"
)

// Step is a configuration step. Steps run in declaration order.
type Step uint8

const (
	// StepAwaitDeviceType queries the device type.
	StepAwaitDeviceType Step = iota
	// StepSendFileName announces the 8-byte image name.
	StepSendFileName
	// StepSendFileDate announces the FAT-packed date.
	StepSendFileDate
	// StepSendPageSize announces the page size.
	StepSendPageSize
	// StepSendPageSum announces the page count.
	StepSendPageSum
	// StepAwaitStartAck asks the device to start and waits for "ready".
	StepAwaitStartAck
	// StepTransferPages is terminal for the sequencer; pages take over.
	StepTransferPages
)

// String returns a human-readable step name.
func (s Step) String() string {
	switch s {
	case StepAwaitDeviceType:
		return "await-device-type"
	case StepSendFileName:
		return "send-file-name"
	case StepSendFileDate:
		return "send-file-date"
	case StepSendPageSize:
		return "send-page-size"
	case StepSendPageSum:
		return "send-page-sum"
	case StepAwaitStartAck:
		return "await-start-ack"
	case StepTransferPages:
		return "transfer-pages"
	default:
		return "unknown"
	}
}

// Sequencer walks the configuration steps. It only builds frames and
// interprets acks; timing belongs to the session.
type Sequencer struct {
	step       Step
	name       string
	pageTotal  uint32
	now        func() time.Time
	deviceType byte
	typeKnown  bool
}

// NewSequencer starts at StepAwaitDeviceType. now stamps the file date
// each time that step is sent.
func NewSequencer(name string, pageTotal int, now func() time.Time) *Sequencer {
	if now == nil {
		now = time.Now
	}
	return &Sequencer{
		name:      name,
		pageTotal: uint32(pageTotal),
		now:       now,
	}
}

// Step returns the current step.
func (s *Sequencer) Step() Step {
	return s.step
}

// DeviceType returns the type reported by the device, if any.
func (s *Sequencer) DeviceType() (byte, bool) {
	return s.deviceType, s.typeKnown
}

// Action returns the inner frame for the current step, or nil once pages
// are being transferred.
func (s *Sequencer) Action() []byte {
	switch s.step {
	case StepAwaitDeviceType:
		return protocol.DeviceTypeQuery()
	case StepSendFileName:
		return protocol.FileName(s.name)
	case StepSendFileDate:
		return protocol.FileDate(s.now())
	case StepSendPageSize:
		return protocol.PageSize(limits.PageSize)
	case StepSendPageSum:
		return protocol.PageSum(s.pageTotal)
	case StepAwaitStartAck:
		return protocol.StartDownload()
	default:
		return nil
	}
}

// Advance moves to the next step when resp is the ack the current step is
// waiting for. Acks that do not fit the current step are ignored and each
// accepted ack moves exactly one step.
func (s *Sequencer) Advance(resp *protocol.Response) bool {
	if resp == nil || !s.accepts(resp) {
		return false
	}
	if s.step == StepAwaitDeviceType && resp.HasDeviceType {
		s.deviceType = resp.DeviceType
		s.typeKnown = true
	}
	s.step++
	return true
}

func (s *Sequencer) accepts(resp *protocol.Response) bool {
	switch s.step {
	case StepAwaitDeviceType:
		return resp.Command == protocol.CmdDeviceTypeReply
	case StepSendFileName, StepSendFileDate, StepSendPageSize, StepSendPageSum:
		return resp.IsStatus(protocol.StatusAccepted)
	case StepAwaitStartAck:
		return resp.IsStatus(protocol.StatusReady)
	default:
		return false
	}
}
