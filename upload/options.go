package upload

import (
	"time"

	"github.com/JMRMEDEV/ev5-dev-tools/transport"
)

// Default wire and timing parameters of the EV5 Wi-Fi bootloader.
const (
	DefaultLocalPort      = 36803
	DefaultDevicePort     = 28000
	DefaultPairingTimeout = 5 * time.Second
	DefaultResendInterval = 1000 * time.Millisecond
	DefaultSettleDelay    = 100 * time.Millisecond
	DefaultPollInterval   = 1000 * time.Millisecond
	DefaultUploadTimeout  = 300 * time.Second
)

// TransportFactory opens the session transport bound to listenAddr.
type TransportFactory func(listenAddr string) (transport.Transport, error)

// Config holds the uploader configuration.
type Config struct {
	// LocalPort is the UDP port the host binds. Zero picks an ephemeral port.
	LocalPort int

	// DevicePort is where probes are sent before the peer is known.
	DevicePort int

	PairingTimeout time.Duration

	// ResendInterval re-sends the current configuration step when no ack
	// arrives.
	ResendInterval time.Duration

	// SettleDelay is waited between the start ack and the first page.
	SettleDelay time.Duration

	// PollInterval is how often completion is checked.
	PollInterval time.Duration

	// UploadTimeout is the ceiling for the whole upload, pairing included.
	UploadTimeout time.Duration

	// PageRetryInterval re-sends the current page when its ack does not
	// arrive in time. Zero disables per-page retries.
	PageRetryInterval time.Duration

	// ResendOnChecksumMismatch re-sends a page whose echoed checksum does
	// not match.
	ResendOnChecksumMismatch bool

	// Resolver supplies the local IPv4 announced in the handshake.
	Resolver transport.LocalEndpointResolver

	// TransportFactory opens the socket (optional, UDP by default).
	TransportFactory TransportFactory

	// TimeProvider drives timers and elapsed time (optional).
	TimeProvider TimeProvider

	// ProgressCallback is called as the upload advances (optional).
	ProgressCallback ProgressCallback

	// HexDump logs every datagram at debug level when the transport
	// supports it.
	HexDump bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		LocalPort:      DefaultLocalPort,
		DevicePort:     DefaultDevicePort,
		PairingTimeout: DefaultPairingTimeout,
		ResendInterval: DefaultResendInterval,
		SettleDelay:    DefaultSettleDelay,
		PollInterval:   DefaultPollInterval,
		UploadTimeout:  DefaultUploadTimeout,
		Resolver:       transport.SubnetGuessResolver{},
		TransportFactory: func(listenAddr string) (transport.Transport, error) {
			return transport.NewUDPTransport(listenAddr)
		},
		TimeProvider: DefaultTimeProvider{},
	}
}

// Option is a functional option for configuring the Uploader.
type Option func(*Config)

// WithProgressCallback sets a callback to track upload progress.
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLocalPort sets the host UDP port.
//
// Example:
//
//	up := upload.New(upload.WithLocalPort(0)) // ephemeral
func WithLocalPort(port int) Option {
	return func(c *Config) {
		if port >= 0 && port <= 0xFFFF {
			c.LocalPort = port
		}
	}
}

// WithDevicePort sets the device UDP port used for the pairing probes.
func WithDevicePort(port int) Option {
	return func(c *Config) {
		if port > 0 && port <= 0xFFFF {
			c.DevicePort = port
		}
	}
}

// WithPairingTimeout sets how long to wait for the handshake ack.
func WithPairingTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.PairingTimeout = timeout
		}
	}
}

// WithResendInterval sets the configuration step re-send interval.
func WithResendInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval > 0 {
			c.ResendInterval = interval
		}
	}
}

// WithSettleDelay sets the pause between the start ack and the first page.
func WithSettleDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.SettleDelay = delay
		}
	}
}

// WithPollInterval sets the completion poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval > 0 {
			c.PollInterval = interval
		}
	}
}

// WithUploadTimeout sets the overall upload ceiling.
//
// Example:
//
//	up := upload.New(upload.WithUploadTimeout(2*time.Minute))
func WithUploadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.UploadTimeout = timeout
		}
	}
}

// WithPageRetryInterval enables per-page re-sends. Zero disables them.
func WithPageRetryInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval >= 0 {
			c.PageRetryInterval = interval
		}
	}
}

// WithResendOnChecksumMismatch re-sends a page whose echoed checksum is
// wrong instead of waiting for a correct ack.
func WithResendOnChecksumMismatch(enabled bool) Option {
	return func(c *Config) {
		c.ResendOnChecksumMismatch = enabled
	}
}

// WithResolver sets the local endpoint resolver used in the handshake.
//
// Example:
//
//	up := upload.New(upload.WithResolver(transport.InterfaceResolver{}))
func WithResolver(resolver transport.LocalEndpointResolver) Option {
	return func(c *Config) {
		if resolver != nil {
			c.Resolver = resolver
		}
	}
}

// WithTransportFactory replaces the UDP socket, e.g. with an in-memory
// transport.
func WithTransportFactory(factory TransportFactory) Option {
	return func(c *Config) {
		if factory != nil {
			c.TransportFactory = factory
		}
	}
}

// WithTimeProvider replaces the clock.
func WithTimeProvider(tp TimeProvider) Option {
	return func(c *Config) {
		if tp != nil {
			c.TimeProvider = tp
		}
	}
}

// WithHexDump logs every datagram in hex at debug level.
func WithHexDump(enabled bool) Option {
	return func(c *Config) {
		c.HexDump = enabled
	}
}
