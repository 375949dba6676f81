package upload

import (
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JMRMEDEV/ev5-dev-tools/firmware"
	"github.com/JMRMEDEV/ev5-dev-tools/protocol"
	"github.com/JMRMEDEV/ev5-dev-tools/transport"
)

const (
	testCode     = protocol.PairingCode(123456)
	testTargetIP = "192.168.1.50"
)

// mockTimer is a callback held by mockTimeProvider until the clock passes
// its deadline.
type mockTimer struct {
	clock   *mockTimeProvider
	when    time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *mockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// mockTimeProvider provides deterministic time for testing. Timers only
// fire from advance, on the calling goroutine.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
	timers      []*mockTimer
	seq         int
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	timer := &mockTimer{clock: m, when: m.currentTime.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, timer)
	return timer
}

// advance moves the clock forward, firing due timers in deadline order.
func (m *mockTimeProvider) advance(d time.Duration) {
	m.mu.Lock()
	target := m.currentTime.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		due := m.dueLocked(target)
		if due == nil {
			m.currentTime = target
			m.mu.Unlock()
			return
		}
		m.currentTime = due.when
		due.fired = true
		m.mu.Unlock()

		due.f()
	}
}

func (m *mockTimeProvider) dueLocked(target time.Time) *mockTimer {
	var live []*mockTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.timers = live

	sort.Slice(live, func(i, j int) bool {
		if live[i].when.Equal(live[j].when) {
			return live[i].seq < live[j].seq
		}
		return live[i].when.Before(live[j].when)
	})
	if len(live) == 0 || live[0].when.After(target) {
		return nil
	}
	return live[0]
}

func (m *mockTimeProvider) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type sentFrame struct {
	frame *transport.Frame
	addr  net.Addr
}

// mockTransport implements transport.Transport for testing.
type mockTransport struct {
	mu         sync.Mutex
	sent       []sentFrame
	handlers   map[transport.CommandPair]transport.FrameHandler
	closeCount int
	sendErr    error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		handlers: make(map[transport.CommandPair]transport.FrameHandler),
	}
}

func (m *mockTransport) Send(frame *transport.Frame, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	payload := make([]byte, len(frame.Payload))
	copy(payload, frame.Payload)
	m.sent = append(m.sent, sentFrame{
		frame: &transport.Frame{Pair: frame.Pair, Payload: payload},
		addr:  addr,
	})
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	return nil
}

func (m *mockTransport) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(192, 168, 1, 1), Port: DefaultLocalPort}
}

func (m *mockTransport) RegisterHandler(pair transport.CommandPair, handler transport.FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[pair] = handler
}

// receive delivers a frame as if it arrived from addr.
func (m *mockTransport) receive(pair transport.CommandPair, payload []byte, addr net.Addr) {
	m.mu.Lock()
	handler, exists := m.handlers[pair]
	m.mu.Unlock()
	if exists {
		handler(&transport.Frame{Pair: pair, Payload: payload}, addr)
	}
}

func (m *mockTransport) frames() []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentFrame, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockTransport) last() sentFrame {
	frames := m.frames()
	if len(frames) == 0 {
		return sentFrame{}
	}
	return frames[len(frames)-1]
}

func (m *mockTransport) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

func (m *mockTransport) closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// sessionHarness drives a session synchronously: events are drained on
// the test goroutine instead of by run.
type sessionHarness struct {
	t      *testing.T
	s      *session
	tr     *mockTransport
	clock  *mockTimeProvider
	img    *firmware.Image
	device *net.UDPAddr
}

func newHarness(t *testing.T, imageSize int, opts ...Option) *sessionHarness {
	t.Helper()

	data := make([]byte, imageSize)
	for i := range data {
		data[i] = byte(i * 7)
	}
	img, err := firmware.New("main.bin", data)
	require.NoError(t, err)

	clock := newMockTimeProvider()
	tr := newMockTransport()

	cfg := defaultConfig()
	cfg.TimeProvider = clock
	for _, opt := range opts {
		opt(&cfg)
	}

	device := &net.UDPAddr{IP: net.ParseIP(testTargetIP).To4(), Port: DefaultDevicePort}
	s := newSession(cfg, tr, img, device, testCode)

	return &sessionHarness{t: t, s: s, tr: tr, clock: clock, img: img, device: device}
}

// drain handles every queued event.
func (h *sessionHarness) drain() {
	for {
		select {
		case ev := <-h.s.events:
			h.s.handle(ev)
		default:
			return
		}
	}
}

func (h *sessionHarness) tick(d time.Duration) {
	h.clock.advance(d)
	h.drain()
}

func (h *sessionHarness) start() {
	h.t.Helper()
	require.NoError(h.t, h.s.start())
}

// reply delivers a device response on the command reply pair.
func (h *sessionHarness) reply(inner []byte) {
	h.tr.receive(transport.PairCommandReply, testCode.Wrap(inner), h.device)
	h.drain()
}

// connect starts the session and acknowledges the handshake.
func (h *sessionHarness) connect() {
	h.t.Helper()
	h.start()
	code := testCode.Bytes()
	h.tr.receive(transport.PairHandshakeAck, code[:], h.device)
	h.drain()
	require.Equal(h.t, PhaseConfiguring, h.s.phase)
}

// configure walks every configuration step and lets the settle delay pass.
func (h *sessionHarness) configure() {
	h.t.Helper()
	h.connect()
	h.reply(protocol.DeviceTypeReply(0x21))
	for i := 0; i < 4; i++ {
		h.reply(protocol.StatusReply(protocol.StatusAccepted))
	}
	h.reply(protocol.StatusReply(protocol.StatusReady))
	require.Equal(h.t, StepTransferPages, h.s.seq.Step())
	h.tick(h.s.config.SettleDelay)
	require.Equal(h.t, PhaseTransfer, h.s.phase)
}

// ackLastPage echoes the checksum of the page last sent.
func (h *sessionHarness) ackLastPage() {
	h.t.Helper()
	last := h.tr.last()
	require.Equal(h.t, transport.PairData, last.frame.Pair)
	inner := last.frame.Payload[protocol.PairingCodeSize:]
	page := inner[4 : len(inner)-2]
	h.reply(protocol.PageChecksumReply(protocol.PageChecksum(page)))
}
