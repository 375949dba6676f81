package upload_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JMRMEDEV/ev5-dev-tools/devsim"
	"github.com/JMRMEDEV/ev5-dev-tools/protocol"
	"github.com/JMRMEDEV/ev5-dev-tools/transport"
	"github.com/JMRMEDEV/ev5-dev-tools/upload"
)

const (
	code     = protocol.PairingCode(123456)
	deviceIP = "192.168.1.50"
)

var (
	deviceAddr = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50).To4(), Port: upload.DefaultDevicePort}
	hostAddr   = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 1).To4(), Port: upload.DefaultLocalPort}
)

func writeImage(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}
	path := filepath.Join(t.TempDir(), "firmware.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func fastOptions(network *transport.MemoryNetwork) []upload.Option {
	return []upload.Option{
		upload.WithTransportFactory(func(string) (transport.Transport, error) {
			return network.Listen(hostAddr)
		}),
		upload.WithPairingTimeout(500 * time.Millisecond),
		upload.WithResendInterval(50 * time.Millisecond),
		upload.WithSettleDelay(5 * time.Millisecond),
		upload.WithPollInterval(10 * time.Millisecond),
		upload.WithUploadTimeout(5 * time.Second),
	}
}

func startDevice(t *testing.T, network *transport.MemoryNetwork, opts ...devsim.Option) *devsim.Device {
	t.Helper()
	tr, err := network.Listen(deviceAddr)
	require.NoError(t, err)
	dev := devsim.New(tr, append([]devsim.Option{devsim.WithCode(code)}, opts...)...)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestUpload_MemoryNetwork(t *testing.T) {
	network := transport.NewMemoryNetwork()
	dev := startDevice(t, network)
	path, data := writeImage(t, 2500)

	var phases []string
	opts := append(fastOptions(network), upload.WithProgressCallback(func(p upload.Progress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
	}))

	elapsed, err := upload.New(opts...).Upload(context.Background(), path, deviceIP, code)
	require.NoError(t, err)
	assert.Greater(t, elapsed, time.Duration(0))

	select {
	case <-dev.Done():
	case <-time.After(time.Second):
		t.Fatal("device did not receive the whole image")
	}

	image := dev.Image()
	require.Len(t, image, 3*1024)
	assert.Equal(t, data, image[:2500])
	assert.Equal(t, make([]byte, 3*1024-2500), image[2500:])
	assert.Equal(t, "firmware", dev.FileName())

	stats := dev.Stats()
	assert.Equal(t, 2, stats.PrimeFrames)
	assert.Equal(t, 1024, stats.PageSize)
	assert.Equal(t, 3, stats.PageTotal)
	assert.Equal(t, net.IPv4(192, 168, 1, 1).To4(), stats.HostAnnounce)

	assert.Equal(t, []string{upload.PhasePairing, upload.PhaseConfiguring, upload.PhaseTransfer, upload.PhaseComplete}, phases)

	// The host endpoint was released, so the address can be bound again.
	again, err := network.Listen(hostAddr)
	require.NoError(t, err)
	again.Close()
}

func TestUpload_RecoversLostConfigurationAcks(t *testing.T) {
	network := transport.NewMemoryNetwork()
	dev := startDevice(t, network, devsim.WithDropAcks(2), devsim.WithIgnoreRequests(2))
	path, data := writeImage(t, 1500)

	_, err := upload.New(fastOptions(network)...).Upload(context.Background(), path, deviceIP, code)
	require.NoError(t, err)

	assert.Equal(t, data, dev.Image()[:1500])
	stats := dev.Stats()
	assert.Equal(t, 2, stats.AcksDropped)
	assert.Greater(t, stats.Requests, 6, "steps were re-sent")
}

func TestUpload_ChecksumMismatchResend(t *testing.T) {
	network := transport.NewMemoryNetwork()
	dev := startDevice(t, network, devsim.WithCorruptPage(1))
	path, data := writeImage(t, 3000)

	opts := append(fastOptions(network), upload.WithResendOnChecksumMismatch(true))
	_, err := upload.New(opts...).Upload(context.Background(), path, deviceIP, code)
	require.NoError(t, err)

	assert.Equal(t, data, dev.Image()[:3000])
	assert.Equal(t, 4, dev.Stats().DataFrames)
}

func TestUpload_PageRetryRecoversCorruptAck(t *testing.T) {
	network := transport.NewMemoryNetwork()
	startDevice(t, network, devsim.WithCorruptPage(0))
	path, _ := writeImage(t, 2048)

	opts := append(fastOptions(network), upload.WithPageRetryInterval(30*time.Millisecond))
	_, err := upload.New(opts...).Upload(context.Background(), path, deviceIP, code)
	require.NoError(t, err)
}

func TestUpload_StallsWithoutPageRecovery(t *testing.T) {
	network := transport.NewMemoryNetwork()
	startDevice(t, network, devsim.WithCorruptPage(0))
	path, _ := writeImage(t, 2048)

	opts := append(fastOptions(network), upload.WithUploadTimeout(300*time.Millisecond))
	_, err := upload.New(opts...).Upload(context.Background(), path, deviceIP, code)
	assert.ErrorIs(t, err, upload.ErrUploadTimeout)
}

func TestUpload_PairingTimeout(t *testing.T) {
	network := transport.NewMemoryNetwork()
	path, _ := writeImage(t, 1024)

	opts := append(fastOptions(network), upload.WithPairingTimeout(50*time.Millisecond))
	_, err := upload.New(opts...).Upload(context.Background(), path, deviceIP, code)
	assert.ErrorIs(t, err, upload.ErrPairingTimeout)
}

func TestUpload_WrongPairingCode(t *testing.T) {
	network := transport.NewMemoryNetwork()
	startDevice(t, network)
	path, _ := writeImage(t, 1024)

	opts := append(fastOptions(network), upload.WithPairingTimeout(50*time.Millisecond))
	_, err := upload.New(opts...).Upload(context.Background(), path, deviceIP, protocol.PairingCode(111))
	assert.ErrorIs(t, err, upload.ErrPairingTimeout)
}

func TestUpload_ContextCancelled(t *testing.T) {
	network := transport.NewMemoryNetwork()
	path, _ := writeImage(t, 1024)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	opts := append(fastOptions(network), upload.WithPairingTimeout(time.Minute))
	_, err := upload.New(opts...).Upload(ctx, path, deviceIP, code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpload_InputErrors(t *testing.T) {
	network := transport.NewMemoryNetwork()
	opened := false
	up := upload.New(upload.WithTransportFactory(func(string) (transport.Transport, error) {
		opened = true
		return network.Listen(hostAddr)
	}))

	_, err := up.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.bin"), deviceIP, code)
	assert.ErrorIs(t, err, upload.ErrFileNotFound)

	path, _ := writeImage(t, 10)
	_, err = up.Upload(context.Background(), path, "not-an-ip", code)
	assert.ErrorIs(t, err, upload.ErrInvalidTarget)

	_, err = up.Upload(context.Background(), path, "::1", code)
	assert.ErrorIs(t, err, upload.ErrInvalidTarget)

	_, err = up.Upload(context.Background(), path, deviceIP, protocol.PairingCode(protocol.MaxPairingCode+1))
	assert.Error(t, err)

	assert.False(t, opened, "no socket is opened for invalid input")
}

func TestUpload_LoopbackUDP(t *testing.T) {
	devTr, err := transport.NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	dev := devsim.New(devTr, devsim.WithCode(code))
	defer dev.Close()

	port := devTr.LocalAddr().(*net.UDPAddr).Port
	path, data := writeImage(t, 4096+17)

	up := upload.New(
		upload.WithLocalPort(0),
		upload.WithDevicePort(port),
		upload.WithResolver(transport.StaticResolver{IP: net.IPv4(127, 0, 0, 1)}),
		upload.WithPairingTimeout(time.Second),
		upload.WithResendInterval(100*time.Millisecond),
		upload.WithSettleDelay(5*time.Millisecond),
		upload.WithPollInterval(10*time.Millisecond),
		upload.WithUploadTimeout(10*time.Second),
	)

	_, err = up.Upload(context.Background(), path, "127.0.0.1", code)
	require.NoError(t, err)

	select {
	case <-dev.Done():
	case <-time.After(time.Second):
		t.Fatal("device did not receive the whole image")
	}
	assert.Equal(t, data, dev.Image()[:len(data)])
	assert.Equal(t, net.IPv4(127, 0, 0, 1).To4(), dev.Stats().HostAnnounce)
}

func TestUpload_Defaults(t *testing.T) {
	cfg := upload.New().Config()
	assert.Equal(t, 36803, cfg.LocalPort)
	assert.Equal(t, 28000, cfg.DevicePort)
	assert.Equal(t, 5*time.Second, cfg.PairingTimeout)
	assert.Equal(t, time.Second, cfg.ResendInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 300*time.Second, cfg.UploadTimeout)
	assert.Zero(t, cfg.PageRetryInterval)
	assert.False(t, cfg.ResendOnChecksumMismatch)
}
