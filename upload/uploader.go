package upload

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/JMRMEDEV/ev5-dev-tools/firmware"
	"github.com/JMRMEDEV/ev5-dev-tools/protocol"
	"github.com/sirupsen/logrus"
)

// Uploader sends firmware images to EV5 devices over Wi-Fi.
//
// Each Upload call owns its own socket and session, so an Uploader may be
// reused, but concurrent uploads must use distinct local ports.
type Uploader struct {
	config Config
}

// New creates an Uploader with the given options.
//
// Example:
//
//	up := upload.New(
//	    upload.WithResolver(transport.InterfaceResolver{}),
//	    upload.WithUploadTimeout(2*time.Minute),
//	)
func New(opts ...Option) *Uploader {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Uploader{config: cfg}
}

// Config returns a copy of the effective configuration.
func (u *Uploader) Config() Config {
	return u.config
}

// Upload performs the complete upload sequence:
//  1. Load the image at imagePath
//  2. Pair with the device at targetIP using code
//  3. Prime user-space mode and run the configuration steps
//  4. Stream every page and wait for the last acknowledgment
//
// It returns the elapsed time of the transfer. The socket is released and
// every timer cancelled before Upload returns, whatever the outcome.
func (u *Uploader) Upload(ctx context.Context, imagePath, targetIP string, code protocol.PairingCode) (time.Duration, error) {
	img, err := firmware.Load(imagePath)
	if err != nil {
		return 0, err
	}

	ip := net.ParseIP(strings.TrimSpace(targetIP)).To4()
	if ip == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTarget, targetIP)
	}
	if err := code.Validate(); err != nil {
		return 0, err
	}

	listenAddr := fmt.Sprintf(":%d", u.config.LocalPort)
	tr, err := u.config.TransportFactory(listenAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Upload",
			"listen_addr": listenAddr,
			"error":       err.Error(),
		}).Error("Failed to open transport")
		return 0, fmt.Errorf("open transport: %w", err)
	}

	if u.config.HexDump {
		if dumper, ok := tr.(interface{ EnableHexDump(bool) }); ok {
			dumper.EnableHexDump(true)
		}
	}

	target := &net.UDPAddr{IP: ip, Port: u.config.DevicePort}
	s := newSession(u.config, tr, img, target, code)

	return s.run(ctx)
}

// Upload runs a single upload with the default configuration.
func Upload(ctx context.Context, imagePath, targetIP string, code protocol.PairingCode) (time.Duration, error) {
	return New().Upload(ctx, imagePath, targetIP, code)
}
