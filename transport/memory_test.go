package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func udpAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip).To4(), Port: port}
}

func TestMemoryNetwork_Delivery(t *testing.T) {
	network := NewMemoryNetwork()

	host, err := network.Listen(udpAddr("192.168.1.10", 36803))
	require.NoError(t, err)
	defer host.Close()

	device, err := network.Listen(udpAddr("192.168.1.50", 28000))
	require.NoError(t, err)
	defer device.Close()

	received := make(chan net.Addr, 1)
	device.RegisterHandler(PairHandshake, func(frame *Frame, addr net.Addr) error {
		received <- addr
		return nil
	})

	require.NoError(t, host.Send(&Frame{Pair: PairHandshake, Payload: []byte{1, 2, 3}}, device.LocalAddr()))

	select {
	case from := <-received:
		assert.Equal(t, "192.168.1.10:36803", from.String())
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}

	log := network.DeliveryLog()
	require.Len(t, log, 1)
	assert.True(t, log[0].Delivered)
	assert.Equal(t, PairHandshake, log[0].Pair)
	assert.Equal(t, "192.168.1.50:28000", log[0].To)
}

func TestMemoryNetwork_UnknownDestinationIsSilentlyLost(t *testing.T) {
	network := NewMemoryNetwork()
	host, err := network.Listen(udpAddr("10.0.0.1", 36803))
	require.NoError(t, err)
	defer host.Close()

	err = host.Send(&Frame{Pair: PairPairingCode, Payload: []byte{0, 0, 1}}, udpAddr("10.0.0.2", 28000))
	assert.NoError(t, err)

	log := network.DeliveryLog()
	require.Len(t, log, 1)
	assert.False(t, log[0].Delivered)
}

func TestMemoryNetwork_DropFilter(t *testing.T) {
	network := NewMemoryNetwork()
	a, err := network.Listen(udpAddr("10.0.0.1", 1))
	require.NoError(t, err)
	defer a.Close()
	b, err := network.Listen(udpAddr("10.0.0.2", 2))
	require.NoError(t, err)
	defer b.Close()

	network.SetDropFilter(func(from, to net.Addr, frame *Frame) bool {
		return frame.Pair == PairData
	})

	got := make(chan CommandPair, 2)
	handler := func(frame *Frame, addr net.Addr) error {
		got <- frame.Pair
		return nil
	}
	b.RegisterHandler(PairData, handler)
	b.RegisterHandler(PairCommand, handler)

	require.NoError(t, a.Send(&Frame{Pair: PairData, Payload: []byte{1}}, b.LocalAddr()))
	require.NoError(t, a.Send(&Frame{Pair: PairCommand, Payload: []byte{2}}, b.LocalAddr()))

	select {
	case pair := <-got:
		assert.Equal(t, PairCommand, pair)
	case <-time.After(time.Second):
		t.Fatal("command frame not delivered")
	}
}

func TestMemoryTransport_MalformedNeverReachesHandler(t *testing.T) {
	network := NewMemoryNetwork()
	a, err := network.Listen(udpAddr("10.0.0.1", 1))
	require.NoError(t, err)
	defer a.Close()
	b, err := network.Listen(udpAddr("10.0.0.2", 2))
	require.NoError(t, err)
	defer b.Close()

	got := make(chan *Frame, 2)
	b.RegisterHandler(PairCommandReply, func(frame *Frame, addr net.Addr) error {
		got <- frame
		return nil
	})

	require.NoError(t, a.SendRaw([]byte{0x78, 0xCD, 0x00, 0x09, 0xFF, 0xEE, 0x00, 0xBE}, b.LocalAddr()))
	require.NoError(t, a.Send(&Frame{Pair: PairCommandReply, Payload: []byte{7}}, b.LocalAddr()))

	select {
	case frame := <-got:
		assert.Equal(t, []byte{7}, frame.Payload)
	case <-time.After(time.Second):
		t.Fatal("valid frame not delivered")
	}
	assert.Len(t, got, 0)
}

func TestMemoryNetwork_ListenConflictAndClose(t *testing.T) {
	network := NewMemoryNetwork()
	addr := udpAddr("10.0.0.1", 36803)

	a, err := network.Listen(addr)
	require.NoError(t, err)

	_, err = network.Listen(addr)
	assert.Error(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	err = a.Send(&Frame{Pair: PairCommand, Payload: []byte{}}, addr)
	assert.ErrorIs(t, err, ErrTransportClosed)

	b, err := network.Listen(addr)
	require.NoError(t, err)
	assert.NoError(t, b.Close())
}
