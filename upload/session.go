package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/JMRMEDEV/ev5-dev-tools/firmware"
	"github.com/JMRMEDEV/ev5-dev-tools/protocol"
	"github.com/JMRMEDEV/ev5-dev-tools/transport"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// eventQueueSize bounds the session inbox. Producers block when it is full
// until the loop catches up or the session ends.
const eventQueueSize = 64

// userSpacePrimes is how many times the user-space mode frame is sent
// before the first configuration step.
const userSpacePrimes = 2

// inboundPairs are the command pairs the host listens for.
var inboundPairs = []transport.CommandPair{
	transport.PairPairingAck,
	transport.PairHandshakeAck,
	transport.PairDataReply,
	transport.PairCommandReply,
}

// event is one unit of work for the session loop: an inbound frame or a
// timer firing.
type event struct {
	frame *transport.Frame
	from  net.Addr
	timer *timerEvent
}

// session is the state of one upload. Every field below the channels is
// owned by whichever goroutine drains events; transport handlers and timers
// only post.
type session struct {
	id     string
	config Config
	clock  TimeProvider
	tr     transport.Transport
	code   protocol.PairingCode
	target *net.UDPAddr

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	sched     *scheduler

	negotiator *Negotiator
	seq        *Sequencer
	pages      *PageEngine

	phase   string
	peer    *net.UDPAddr
	started time.Time
	// connected is when the handshake ack arrived; the reported elapsed
	// time runs from here.
	connected time.Time
	finished  bool
	elapsed   time.Duration
	terminal  bool
	err       error
}

func newSession(cfg Config, tr transport.Transport, img *firmware.Image, target *net.UDPAddr, code protocol.PairingCode) *session {
	s := &session{
		id:         uuid.New().String(),
		config:     cfg,
		clock:      cfg.TimeProvider,
		tr:         tr,
		code:       code,
		target:     target,
		events:     make(chan event, eventQueueSize),
		done:       make(chan struct{}),
		negotiator: NewNegotiator(code, cfg.Resolver),
		seq:        NewSequencer(img.Name, img.PageCount(), cfg.TimeProvider.Now),
		pages:      NewPageEngine(img),
		phase:      PhasePairing,
	}
	s.sched = newScheduler(s.clock, func(ev timerEvent) {
		s.post(event{timer: &ev})
	})

	handler := func(frame *transport.Frame, from net.Addr) error {
		s.post(event{frame: frame, from: from})
		return nil
	}
	for _, pair := range inboundPairs {
		tr.RegisterHandler(pair, handler)
	}

	return s
}

// post hands an event to the loop. It gives up once the session is torn
// down so transport and timer goroutines never block on a dead session.
func (s *session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// run drives the session until it succeeds, fails or ctx ends. The
// transport is closed on every path.
func (s *session) run(ctx context.Context) (time.Duration, error) {
	defer s.teardown()

	if err := s.start(); err != nil {
		return 0, err
	}

	for !s.terminal {
		select {
		case <-ctx.Done():
			s.fail(fmt.Errorf("upload cancelled: %w", ctx.Err()))
		case ev := <-s.events:
			s.handle(ev)
		}
	}

	return s.elapsed, s.err
}

// start sends the pairing probes and arms the session-wide timers.
func (s *session) start() error {
	s.started = s.clock.Now()

	logrus.WithFields(logrus.Fields{
		"function": "start",
		"session":  s.id,
		"target":   s.target.String(),
		"pages":    s.pages.Total(),
	}).Info("Starting upload")

	probes, err := s.negotiator.Probes(s.target.IP)
	if err != nil {
		return err
	}
	for _, probe := range probes {
		if err := s.tr.Send(probe, s.target); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "start",
				"session":  s.id,
				"pair":     probe.Pair.String(),
				"error":    err.Error(),
			}).Error("Failed to send pairing probe")
			return fmt.Errorf("send pairing probe: %w", err)
		}
	}

	s.sched.schedule(taskPairingTimeout, s.config.PairingTimeout)
	s.sched.schedule(taskDeadline, s.config.UploadTimeout)
	s.sched.schedule(taskPoll, s.config.PollInterval)
	s.report()

	return nil
}

func (s *session) handle(ev event) {
	if s.terminal {
		return
	}
	if ev.timer != nil {
		s.handleTimer(*ev.timer)
		return
	}
	s.handleFrame(ev.frame, ev.from)
}

func (s *session) handleFrame(frame *transport.Frame, from net.Addr) {
	switch frame.Pair {
	case transport.PairPairingAck, transport.PairHandshakeAck:
		if s.phase != PhasePairing {
			return
		}
		if peer, ok := s.negotiator.Match(frame, from); ok {
			s.connect(peer)
		}

	case transport.PairDataReply, transport.PairCommandReply:
		if s.phase == PhasePairing {
			return
		}
		resp, err := protocol.ParseResponse(frame.Payload, s.code)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleFrame",
				"session":  s.id,
				"from":     from.String(),
				"error":    err.Error(),
			}).Debug("Ignoring unparseable response")
			return
		}
		s.handleResponse(resp)
	}
}

// connect records the peer and starts configuration.
func (s *session) connect(peer *net.UDPAddr) {
	s.sched.cancel(taskPairingTimeout)
	s.peer = peer
	s.phase = PhaseConfiguring
	s.connected = s.clock.Now()

	logrus.WithFields(logrus.Fields{
		"function": "connect",
		"session":  s.id,
		"peer":     peer.String(),
	}).Info("Connected to device")

	for i := 0; i < userSpacePrimes; i++ {
		s.send(transport.PairCommand, protocol.EnterUserSpace())
	}
	s.sendStep()
}

func (s *session) handleResponse(resp *protocol.Response) {
	switch s.phase {
	case PhaseConfiguring:
		s.handleStepAck(resp)
	case PhaseTransfer:
		s.handlePageAck(resp)
	}
}

func (s *session) handleStepAck(resp *protocol.Response) {
	from := s.seq.Step()
	if from == StepTransferPages || !s.seq.Advance(resp) {
		logrus.WithFields(logrus.Fields{
			"function": "handleStepAck",
			"session":  s.id,
			"step":     from.String(),
			"command":  resp.Command.String(),
			"status":   resp.Status,
		}).Debug("Ignoring response that does not advance the step")
		return
	}
	s.sched.cancel(taskResend)

	fields := logrus.Fields{
		"function": "handleStepAck",
		"session":  s.id,
		"step":     from.String(),
		"next":     s.seq.Step().String(),
	}
	if deviceType, ok := s.seq.DeviceType(); ok && from == StepAwaitDeviceType {
		fields["device_type"] = deviceType
	}
	logrus.WithFields(fields).Info("Configuration step acknowledged")

	if s.seq.Step() == StepTransferPages {
		s.sched.schedule(taskSettle, s.config.SettleDelay)
		return
	}
	s.sendStep()
	s.report()
}

func (s *session) handlePageAck(resp *protocol.Response) {
	if !resp.IsStatus(protocol.StatusPageChecksum) || s.pages.Done() {
		return
	}

	err := s.pages.Acknowledge(resp.Checksum)
	var mismatch *ChecksumMismatchError
	if errors.As(err, &mismatch) {
		logrus.WithFields(logrus.Fields{
			"function": "handlePageAck",
			"session":  s.id,
			"page":     mismatch.Page,
			"expected": mismatch.Expected,
			"actual":   mismatch.Actual,
			"resend":   s.config.ResendOnChecksumMismatch,
		}).Warn("Page checksum mismatch")
		if s.config.ResendOnChecksumMismatch {
			s.sendPage()
		}
		return
	}

	s.sched.cancel(taskPageRetry)
	s.report()

	if s.pages.Done() {
		s.finish()
		return
	}
	s.sendPage()
}

func (s *session) handleTimer(ev timerEvent) {
	if !s.sched.claim(ev) {
		return
	}

	switch ev.task {
	case taskPairingTimeout:
		if s.phase == PhasePairing {
			s.fail(fmt.Errorf("%w: no reply from %s within %s", ErrPairingTimeout, s.target, s.config.PairingTimeout))
		}

	case taskDeadline:
		if s.finished {
			s.terminal = true
			return
		}
		s.fail(fmt.Errorf("%w after %s (%d/%d pages)", ErrUploadTimeout, s.config.UploadTimeout, s.pages.Current(), s.pages.Total()))

	case taskPoll:
		if s.finished {
			s.terminal = true
			return
		}
		s.sched.schedule(taskPoll, s.config.PollInterval)

	case taskResend:
		if s.phase == PhaseConfiguring && s.seq.Step() < StepTransferPages {
			logrus.WithFields(logrus.Fields{
				"function": "handleTimer",
				"session":  s.id,
				"step":     s.seq.Step().String(),
			}).Info("No acknowledgment, re-sending step")
			s.sendStep()
		}

	case taskSettle:
		s.phase = PhaseTransfer
		s.report()
		if s.pages.Done() {
			s.finish()
			return
		}
		s.sendPage()

	case taskPageRetry:
		if s.phase == PhaseTransfer {
			logrus.WithFields(logrus.Fields{
				"function": "handleTimer",
				"session":  s.id,
				"page":     s.pages.Current(),
			}).Warn("No page acknowledgment, re-sending page")
			s.sendPage()
		}
	}
}

// sendStep (re-)sends the current step and re-arms its resend timer.
func (s *session) sendStep() {
	action := s.seq.Action()
	if action == nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "sendStep",
		"session":  s.id,
		"step":     s.seq.Step().String(),
	}).Debug("Sending configuration step")

	s.send(transport.PairCommand, action)
	s.sched.schedule(taskResend, s.config.ResendInterval)
}

func (s *session) sendPage() {
	frame, ok := s.pages.Next()
	if !ok {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "sendPage",
		"session":  s.id,
		"page":     s.pages.Current(),
		"total":    s.pages.Total(),
		"percent":  int(s.pages.Percentage()),
	}).Debug("Sending page")

	s.send(transport.PairData, frame)
	if s.config.PageRetryInterval > 0 {
		s.sched.schedule(taskPageRetry, s.config.PageRetryInterval)
	}
}

// send wraps inner with the pairing code and sends it to the peer. Send
// failures are logged; a closed transport ends the session.
func (s *session) send(pair transport.CommandPair, inner []byte) {
	frame := &transport.Frame{Pair: pair, Payload: s.code.Wrap(inner)}
	if err := s.tr.Send(frame, s.peer); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "send",
			"session":  s.id,
			"pair":     pair.String(),
			"error":    err.Error(),
		}).Error("Failed to send frame")
		if errors.Is(err, transport.ErrTransportClosed) {
			s.fail(fmt.Errorf("%w: %v", ErrSessionClosed, err))
		}
	}
}

// finish marks the transfer complete. The poll turns it into a result.
func (s *session) finish() {
	s.finished = true
	s.elapsed = s.clock.Since(s.connected)
	s.phase = PhaseComplete
	s.sched.cancel(taskPageRetry)

	logrus.WithFields(logrus.Fields{
		"function": "finish",
		"session":  s.id,
		"pages":    s.pages.Total(),
		"elapsed":  s.elapsed.String(),
	}).Info("Download finished")

	s.report()
}

func (s *session) fail(err error) {
	if s.terminal {
		return
	}
	s.terminal = true
	s.err = err

	logrus.WithFields(logrus.Fields{
		"function": "fail",
		"session":  s.id,
		"phase":    s.phase,
		"error":    err.Error(),
	}).Error("Upload failed")
}

// teardown cancels every timer and closes the transport exactly once.
func (s *session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sched.stop()
		s.closeErr = s.tr.Close()
		if s.closeErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "teardown",
				"session":  s.id,
				"error":    s.closeErr.Error(),
			}).Warn("Failed to close transport")
		}
	})
}

func (s *session) report() {
	if s.config.ProgressCallback == nil {
		return
	}
	percentage := 0.0
	if s.phase == PhaseTransfer || s.phase == PhaseComplete {
		percentage = s.pages.Percentage()
	}
	s.config.ProgressCallback(Progress{
		Phase:       s.phase,
		Step:        s.seq.Step(),
		CurrentPage: s.pages.Current(),
		TotalPages:  s.pages.Total(),
		Percentage:  percentage,
		ElapsedTime: s.clock.Since(s.started),
	})
}
