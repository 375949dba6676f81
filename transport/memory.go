package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// memoryQueueSize bounds the per-endpoint inbound queue. Datagrams beyond it
// are dropped, as a saturated socket buffer would.
const memoryQueueSize = 256

// DeliveryRecord represents a datagram routed by a MemoryNetwork.
type DeliveryRecord struct {
	From      string
	To        string
	Pair      CommandPair
	Size      int
	Timestamp int64
	Delivered bool
}

// DropFilter decides whether a datagram should be lost in transit.
type DropFilter func(from, to net.Addr, frame *Frame) bool

// MemoryNetwork is an in-memory datagram network for deterministic tests
// and for running the device simulator without sockets. Endpoints are keyed
// by their UDP address string.
type MemoryNetwork struct {
	mu          sync.RWMutex
	endpoints   map[string]*MemoryTransport
	deliveryLog []DeliveryRecord
	drop        DropFilter
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		endpoints: make(map[string]*MemoryTransport),
	}
}

// SetDropFilter installs a loss function. A nil filter delivers everything.
func (n *MemoryNetwork) SetDropFilter(filter DropFilter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = filter
}

// DeliveryLog returns a copy of all routed datagrams.
func (n *MemoryNetwork) DeliveryLog() []DeliveryRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]DeliveryRecord, len(n.deliveryLog))
	copy(out, n.deliveryLog)
	return out
}

// ClearDeliveryLog resets the delivery log.
func (n *MemoryNetwork) ClearDeliveryLog() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveryLog = nil
}

// Listen attaches a new endpoint at addr.
func (n *MemoryNetwork) Listen(addr *net.UDPAddr) (*MemoryTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := addr.String()
	if _, exists := n.endpoints[key]; exists {
		return nil, fmt.Errorf("address %s already in use", key)
	}

	t := &MemoryTransport{
		network:  n,
		addr:     addr,
		handlers: make(map[CommandPair]FrameHandler),
		inbox:    make(chan datagram, memoryQueueSize),
		done:     make(chan struct{}),
	}
	n.endpoints[key] = t

	t.wg.Add(1)
	go t.processPackets()

	return t, nil
}

func (n *MemoryNetwork) route(from net.Addr, to net.Addr, data []byte) {
	record := DeliveryRecord{
		From:      from.String(),
		To:        to.String(),
		Size:      len(data),
		Timestamp: time.Now().UnixNano(),
	}

	frame, decodeErr := DecodeFrame(data)
	if decodeErr == nil {
		record.Pair = frame.Pair
	}

	n.mu.Lock()
	dest, exists := n.endpoints[to.String()]
	drop := n.drop
	n.mu.Unlock()

	if exists && !(drop != nil && frame != nil && drop(from, to, frame)) {
		record.Delivered = dest.enqueue(datagram{data: data, from: from})
	}

	n.mu.Lock()
	n.deliveryLog = append(n.deliveryLog, record)
	n.mu.Unlock()
}

func (n *MemoryNetwork) detach(t *MemoryTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[t.addr.String()] == t {
		delete(n.endpoints, t.addr.String())
	}
}

type datagram struct {
	data []byte
	from net.Addr
}

// MemoryTransport is one endpoint of a MemoryNetwork. Like UDPTransport it
// dispatches inbound frames from a single goroutine in arrival order.
type MemoryTransport struct {
	network   *MemoryNetwork
	addr      *net.UDPAddr
	handlers  map[CommandPair]FrameHandler
	mu        sync.RWMutex
	inbox     chan datagram
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Send encodes the frame and routes it to addr.
func (t *MemoryTransport) Send(frame *Frame, addr net.Addr) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return t.SendRaw(data, addr)
}

// SendRaw routes pre-encoded bytes, which need not be a valid frame.
func (t *MemoryTransport) SendRaw(data []byte, addr net.Addr) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	if addr == nil {
		return errors.New("destination address is nil")
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	t.network.route(t.addr, addr, buf)
	return nil
}

// Close detaches the endpoint and waits for its dispatch goroutine.
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.network.detach(t)
		t.wg.Wait()
	})
	return nil
}

// LocalAddr returns the endpoint address.
func (t *MemoryTransport) LocalAddr() net.Addr {
	return t.addr
}

// RegisterHandler registers a handler for a specific command pair.
func (t *MemoryTransport) RegisterHandler(pair CommandPair, handler FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[pair] = handler
}

func (t *MemoryTransport) enqueue(d datagram) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.inbox <- d:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"function": "enqueue",
			"endpoint": t.addr.String(),
		}).Warn("Inbound queue full, dropping datagram")
		return false
	}
}

func (t *MemoryTransport) processPackets() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case d := <-t.inbox:
			t.dispatch(d)
		}
	}
}

func (t *MemoryTransport) dispatch(d datagram) {
	frame, err := DecodeFrame(d.data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"endpoint": t.addr.String(),
			"from":     d.from.String(),
			"error":    err.Error(),
		}).Debug("Dropping malformed datagram")
		return
	}

	t.mu.RLock()
	handler, exists := t.handlers[frame.Pair]
	t.mu.RUnlock()
	if !exists {
		return
	}

	if err := handler(frame, d.from); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"endpoint": t.addr.String(),
			"pair":     frame.Pair.String(),
			"error":    err.Error(),
		}).Debug("Handler rejected frame")
	}
}
