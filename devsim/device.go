// Package devsim simulates the device side of the EV5 Wi-Fi bootloader.
//
// A Device answers the pairing probes, acknowledges configuration commands
// and data pages, and reassembles the uploaded image. It runs over any
// transport.Transport, so tests can use an in-memory network while bench
// setups bind a real UDP socket.
//
// Example:
//
//	tr, _ := transport.NewUDPTransport(":28000")
//	dev := devsim.New(tr, devsim.WithCode(123456))
//	<-dev.Done()
//	fmt.Printf("received %s (%d bytes)\n", dev.FileName(), len(dev.Image()))
package devsim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JMRMEDEV/ev5-dev-tools/protocol"
	"github.com/JMRMEDEV/ev5-dev-tools/transport"
	"github.com/sirupsen/logrus"
)

// ErrIncomplete is returned by WriteImage before every page has arrived.
var ErrIncomplete = errors.New("image transfer incomplete")

// DefaultDeviceType is reported in reply to the device type query.
const DefaultDeviceType byte = 0x21

// Config holds the simulator behaviour.
type Config struct {
	Code       protocol.PairingCode
	DeviceType byte

	// DropAcks swallows the first N acknowledgments of any kind.
	DropAcks int

	// CorruptPage makes the first ack of that page carry a wrong checksum.
	// Negative disables it.
	CorruptPage int

	// IgnoreRequests leaves the first K configuration requests unanswered.
	IgnoreRequests int
}

// Option configures a Device.
type Option func(*Config)

// WithCode sets the pairing code the device accepts.
func WithCode(code protocol.PairingCode) Option {
	return func(c *Config) { c.Code = code }
}

// WithDeviceType sets the reported device type.
func WithDeviceType(t byte) Option {
	return func(c *Config) { c.DeviceType = t }
}

// WithDropAcks drops the first n acknowledgments.
func WithDropAcks(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.DropAcks = n
		}
	}
}

// WithCorruptPage corrupts the first checksum ack of page index.
func WithCorruptPage(index int) Option {
	return func(c *Config) { c.CorruptPage = index }
}

// WithIgnoreRequests leaves the first k configuration requests unanswered.
func WithIgnoreRequests(k int) Option {
	return func(c *Config) {
		if k >= 0 {
			c.IgnoreRequests = k
		}
	}
}

// Stats counts what the device has seen.
type Stats struct {
	Probes       int
	PrimeFrames  int
	Requests     int
	DataFrames   int
	BadFrames    int
	AcksDropped  int
	AcksSent     int
	PageTotal    int
	PageSize     int
	PagesStored  int
	HostAnnounce net.IP
}

// Device is a simulated EV5 bootloader endpoint.
type Device struct {
	tr     transport.Transport
	config Config

	mu         sync.Mutex
	stats      Stats
	fileName   string
	fileDate   uint32
	pages      map[uint16][]byte
	ready      bool
	corrupted  bool
	ignoreLeft int
	dropLeft   int
	done       chan struct{}
	doneOnce   sync.Once
}

// New attaches a simulated device to tr.
func New(tr transport.Transport, opts ...Option) *Device {
	cfg := Config{DeviceType: DefaultDeviceType, CorruptPage: -1}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Device{
		tr:         tr,
		config:     cfg,
		pages:      make(map[uint16][]byte),
		ignoreLeft: cfg.IgnoreRequests,
		dropLeft:   cfg.DropAcks,
		done:       make(chan struct{}),
	}

	tr.RegisterHandler(transport.PairPairingCode, d.handleProbe)
	tr.RegisterHandler(transport.PairHandshake, d.handleProbe)
	tr.RegisterHandler(transport.PairCommand, d.handleCommand)
	tr.RegisterHandler(transport.PairData, d.handleData)

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"local_addr": tr.LocalAddr().String(),
		"code":       cfg.Code.String(),
	}).Info("Simulated device listening")

	return d
}

// Done is closed once every announced page has been stored.
func (d *Device) Done() <-chan struct{} {
	return d.done
}

// Stats returns a snapshot of the counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// FileName returns the announced name stem with padding removed.
func (d *Device) FileName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fileName
}

// FileStamp returns the announced FAT time (low half) and date (high half).
func (d *Device) FileStamp() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fileDate
}

// Image returns the received pages concatenated in index order. Missing
// pages are left as zeros.
func (d *Device) Image() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.stats.PageSize
	if size == 0 {
		return nil
	}
	out := make([]byte, d.stats.PageTotal*size)
	for index, page := range d.pages {
		start := int(index) * size
		if start >= len(out) {
			continue
		}
		copy(out[start:], page)
	}
	return out
}

// WriteImage stores the received image as <name>.bin in dir and returns
// the path.
func (d *Device) WriteImage(dir string) (string, error) {
	select {
	case <-d.done:
	default:
		return "", ErrIncomplete
	}

	name := d.FileName()
	if name == "" {
		name = "image"
	}
	path := filepath.Join(dir, name+".bin")
	if err := os.WriteFile(path, d.Image(), 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

// Close closes the underlying transport.
func (d *Device) Close() error {
	return d.tr.Close()
}

func (d *Device) handleProbe(frame *transport.Frame, from net.Addr) error {
	if !d.config.Code.Matches(frame.Payload) {
		return protocol.ErrCodeMismatch
	}

	d.mu.Lock()
	d.stats.Probes++
	if frame.Pair == transport.PairHandshake && len(frame.Payload) >= protocol.PairingCodeSize+net.IPv4len {
		d.stats.HostAnnounce = net.IP(append([]byte(nil), frame.Payload[protocol.PairingCodeSize:protocol.PairingCodeSize+net.IPv4len]...))
	}
	d.mu.Unlock()

	ack := transport.PairPairingAck
	if frame.Pair == transport.PairHandshake {
		ack = transport.PairHandshakeAck
	}
	code := d.config.Code.Bytes()

	logrus.WithFields(logrus.Fields{
		"function": "handleProbe",
		"from":     from.String(),
		"pair":     frame.Pair.String(),
	}).Debug("Acknowledging pairing probe")

	return d.tr.Send(&transport.Frame{Pair: ack, Payload: code[:]}, from)
}

func (d *Device) handleCommand(frame *transport.Frame, from net.Addr) error {
	req, err := protocol.ParseRequest(frame.Payload, d.config.Code)
	if err != nil {
		d.mu.Lock()
		d.stats.BadFrames++
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	if req.Short {
		d.stats.PrimeFrames++
		d.mu.Unlock()
		return nil
	}

	d.stats.Requests++
	if d.ignoreLeft > 0 {
		d.ignoreLeft--
		d.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "handleCommand",
			"command":  req.Command.String(),
		}).Debug("Ignoring request")
		return nil
	}

	var reply []byte
	switch req.Command {
	case protocol.CmdDeviceTypeQuery:
		reply = protocol.DeviceTypeReply(d.config.DeviceType)
	case protocol.CmdFileName:
		d.fileName = strings.TrimRight(string(req.Fields[:protocol.FileNameSize]), " ")
		reply = protocol.StatusReply(protocol.StatusAccepted)
	case protocol.CmdFileDate:
		d.fileDate = binary.LittleEndian.Uint32(req.Fields[0:4])
		reply = protocol.StatusReply(protocol.StatusAccepted)
	case protocol.CmdPageSize:
		d.stats.PageSize = int(binary.LittleEndian.Uint16(req.Fields[0:2]))
		reply = protocol.StatusReply(protocol.StatusAccepted)
	case protocol.CmdPageSum:
		d.stats.PageTotal = int(binary.LittleEndian.Uint16(req.Fields[0:2]))
		reply = protocol.StatusReply(protocol.StatusAccepted)
	case protocol.CmdStartDownload:
		d.ready = true
		reply = protocol.StatusReply(protocol.StatusReady)
	default:
		d.mu.Unlock()
		return fmt.Errorf("unsupported command %s", req.Command)
	}
	d.mu.Unlock()

	return d.ack(transport.PairCommandReply, reply, from)
}

func (d *Device) handleData(frame *transport.Frame, from net.Addr) error {
	index, page, err := protocol.ParseDataPage(frame.Payload, d.config.Code)
	if err != nil {
		d.mu.Lock()
		d.stats.BadFrames++
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	d.stats.DataFrames++
	if !d.ready {
		d.mu.Unlock()
		return errors.New("data page before start")
	}
	d.pages[index] = page
	d.stats.PagesStored = len(d.pages)

	checksum := protocol.PageChecksum(page)
	if int(index) == d.config.CorruptPage && !d.corrupted {
		d.corrupted = true
		checksum++
	}
	complete := d.completeLocked()
	d.mu.Unlock()

	err = d.ack(transport.PairDataReply, protocol.PageChecksumReply(checksum), from)
	if complete {
		d.doneOnce.Do(func() {
			logrus.WithFields(logrus.Fields{
				"function": "handleData",
				"name":     d.FileName(),
				"pages":    d.Stats().PageTotal,
			}).Info("Image received")
			close(d.done)
		})
	}
	return err
}

// completeLocked reports whether pages 0..PageTotal-1 are all stored.
func (d *Device) completeLocked() bool {
	if d.stats.PageTotal == 0 || len(d.pages) < d.stats.PageTotal {
		return false
	}
	for i := 0; i < d.stats.PageTotal; i++ {
		if _, ok := d.pages[uint16(i)]; !ok {
			return false
		}
	}
	return true
}

// ack sends a reply unless the drop budget swallows it.
func (d *Device) ack(pair transport.CommandPair, inner []byte, to net.Addr) error {
	d.mu.Lock()
	if d.dropLeft > 0 {
		d.dropLeft--
		d.stats.AcksDropped++
		d.mu.Unlock()
		return nil
	}
	d.stats.AcksSent++
	d.mu.Unlock()

	return d.tr.Send(&transport.Frame{Pair: pair, Payload: d.config.Code.Wrap(inner)}, to)
}
