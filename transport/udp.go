package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/JMRMEDEV/ev5-dev-tools/limits"
	"github.com/sirupsen/logrus"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// readPollInterval bounds how long the read loop blocks before re-checking
// for shutdown.
const readPollInterval = 100 * time.Millisecond

// UDPTransport implements the Transport interface on a UDP socket.
// Inbound datagrams are decoded and dispatched synchronously from a single
// read goroutine, so handlers observe frames in arrival order.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handlers   map[CommandPair]FrameHandler
	hexDump    bool
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
}

// NewUDPTransport binds a UDP socket on listenAddr and starts the read loop.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp4", listenAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "NewUDPTransport",
			"listen_addr": listenAddr,
			"error":       err.Error(),
		}).Error("Failed to bind UDP socket")
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		handlers:   make(map[CommandPair]FrameHandler),
		ctx:        ctx,
		cancel:     cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPTransport",
		"local_addr": t.listenAddr.String(),
	}).Info("UDP socket bound")

	t.wg.Add(1)
	go t.processPackets()

	return t, nil
}

// EnableHexDump logs every datagram in hex at debug level.
func (t *UDPTransport) EnableHexDump(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hexDump = enabled
}

// RegisterHandler registers a handler for a specific command pair.
func (t *UDPTransport) RegisterHandler(pair CommandPair, handler FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[pair] = handler
}

// Send encodes the frame and writes it to addr.
func (t *UDPTransport) Send(frame *Frame, addr net.Addr) error {
	if t.ctx.Err() != nil {
		return ErrTransportClosed
	}

	data, err := frame.Encode()
	if err != nil {
		return err
	}

	t.dump("send", data, addr)

	_, err = t.conn.WriteTo(data, addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"pair":     frame.Pair.String(),
			"to":       addr.String(),
			"error":    err.Error(),
		}).Warn("Failed to send frame")
	}
	return err
}

// Close shuts down the transport and waits for the read loop to exit.
// It is safe to call more than once.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.closeErr = t.conn.Close()
		t.wg.Wait()

		logrus.WithFields(logrus.Fields{
			"function":   "Close",
			"local_addr": t.listenAddr.String(),
		}).Info("UDP socket released")
	})
	return t.closeErr
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.listenAddr
}

// processPackets handles incoming datagrams until Close.
func (t *UDPTransport) processPackets() {
	defer t.wg.Done()
	buffer := make([]byte, limits.MaxDatagram)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			t.processIncomingPacket(buffer)
		}
	}
}

// processIncomingPacket reads, decodes and dispatches a single datagram.
func (t *UDPTransport) processIncomingPacket(buffer []byte) {
	data, addr, err := t.readPacketData(buffer)
	if err != nil {
		return
	}

	t.dump("recv", data, addr)

	frame, err := DecodeFrame(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "processIncomingPacket",
			"from":     addr.String(),
			"size":     len(data),
			"error":    err.Error(),
		}).Debug("Dropping malformed datagram")
		return
	}

	t.dispatchFrameToHandler(frame, addr)
}

// readPacketData reads data from the connection with timeout handling.
func (t *UDPTransport) readPacketData(buffer []byte) ([]byte, net.Addr, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readPollInterval))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, t.handleReadError(err)
	}

	return buffer[:n], addr, nil
}

// handleReadError filters out the expected poll timeouts.
func (t *UDPTransport) handleReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return err
	}
	if t.ctx.Err() != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "handleReadError",
		"error":    err.Error(),
	}).Warn("UDP read failed")
	return err
}

// dispatchFrameToHandler runs the handler for the frame's command pair in
// the read goroutine.
func (t *UDPTransport) dispatchFrameToHandler(frame *Frame, addr net.Addr) {
	t.mu.RLock()
	handler, exists := t.handlers[frame.Pair]
	t.mu.RUnlock()

	if !exists {
		logrus.WithFields(logrus.Fields{
			"function": "dispatchFrameToHandler",
			"pair":     frame.Pair.String(),
			"from":     addr.String(),
		}).Debug("No handler for command pair")
		return
	}

	if err := handler(frame, addr); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dispatchFrameToHandler",
			"pair":     frame.Pair.String(),
			"from":     addr.String(),
			"error":    err.Error(),
		}).Debug("Handler rejected frame")
	}
}

func (t *UDPTransport) dump(direction string, data []byte, addr net.Addr) {
	t.mu.RLock()
	enabled := t.hexDump
	t.mu.RUnlock()
	if !enabled {
		return
	}
	logrus.WithFields(logrus.Fields{
		"direction": direction,
		"peer":      addr.String(),
		"size":      len(data),
		"data":      hex.EncodeToString(data),
	}).Debug("Datagram")
}
