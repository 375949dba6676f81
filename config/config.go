// Package config loads uploader and simulator settings from defaults, an
// optional YAML file, EV5_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JMRMEDEV/ev5-dev-tools/transport"
	"github.com/JMRMEDEV/ev5-dev-tools/upload"
)

// EnvPrefix prefixes every environment override, e.g. EV5_LOGGER_LEVEL.
const EnvPrefix = "EV5"

// DefaultConfigName is searched for in the working directory when no
// explicit path is given.
const DefaultConfigName = "ev5"

// Config is the root configuration.
type Config struct {
	Upload UploadConfig `mapstructure:"upload"`
	Logger LoggerConfig `mapstructure:"logger"`
	Device DeviceConfig `mapstructure:"device"`
}

// UploadConfig mirrors upload.Config for the settings that make sense in a
// file.
type UploadConfig struct {
	LocalPort                int           `mapstructure:"localPort"`
	DevicePort               int           `mapstructure:"devicePort"`
	PairingTimeout           time.Duration `mapstructure:"pairingTimeout"`
	ResendInterval           time.Duration `mapstructure:"resendInterval"`
	SettleDelay              time.Duration `mapstructure:"settleDelay"`
	PollInterval             time.Duration `mapstructure:"pollInterval"`
	UploadTimeout            time.Duration `mapstructure:"uploadTimeout"`
	PageRetryInterval        time.Duration `mapstructure:"pageRetryInterval"`
	ResendOnChecksumMismatch bool          `mapstructure:"resendOnChecksumMismatch"`
	// LocalEndpoint selects how the handshake address is found:
	// subnet-guess, interface or auto.
	LocalEndpoint string `mapstructure:"localEndpoint"`
	// LocalIP overrides LocalEndpoint with a fixed address.
	LocalIP string `mapstructure:"localIP"`
}

// LoggerConfig controls log level, format and destinations.
type LoggerConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	EnableConsole bool   `mapstructure:"enableConsole"`
	FilePath      string `mapstructure:"filePath"`
	MaxSizeMB     int    `mapstructure:"maxSizeMB"`
	MaxBackups    int    `mapstructure:"maxBackups"`
	MaxAgeDays    int    `mapstructure:"maxAgeDays"`
	Compress      bool   `mapstructure:"compress"`
	LogHexDump    bool   `mapstructure:"logHexDump"`
}

// DeviceConfig configures the device simulator.
type DeviceConfig struct {
	Listen     string `mapstructure:"listen"`
	Code       uint32 `mapstructure:"code"`
	DeviceType int    `mapstructure:"deviceType"`
	OutDir     string `mapstructure:"outDir"`
}

// flagKeys maps command-line flag names to configuration keys. Only flags
// present in the given set are bound.
var flagKeys = map[string]string{
	"local-port":         "upload.localPort",
	"device-port":        "upload.devicePort",
	"pairing-timeout":    "upload.pairingTimeout",
	"resend-interval":    "upload.resendInterval",
	"upload-timeout":     "upload.uploadTimeout",
	"page-retry":         "upload.pageRetryInterval",
	"resend-on-mismatch": "upload.resendOnChecksumMismatch",
	"local-endpoint":     "upload.localEndpoint",
	"local-ip":           "upload.localIP",
	"log-level":          "logger.level",
	"log-format":         "logger.format",
	"log-file":           "logger.filePath",
	"hex-dump":           "logger.logHexDump",
	"listen":             "device.listen",
	"device-type":        "device.deviceType",
	"out":                "device.outDir",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upload.localPort", upload.DefaultLocalPort)
	v.SetDefault("upload.devicePort", upload.DefaultDevicePort)
	v.SetDefault("upload.pairingTimeout", upload.DefaultPairingTimeout)
	v.SetDefault("upload.resendInterval", upload.DefaultResendInterval)
	v.SetDefault("upload.settleDelay", upload.DefaultSettleDelay)
	v.SetDefault("upload.pollInterval", upload.DefaultPollInterval)
	v.SetDefault("upload.uploadTimeout", upload.DefaultUploadTimeout)
	v.SetDefault("upload.pageRetryInterval", time.Duration(0))
	v.SetDefault("upload.resendOnChecksumMismatch", false)
	v.SetDefault("upload.localEndpoint", transport.ResolverSubnetGuess)
	v.SetDefault("upload.localIP", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.enableConsole", true)
	v.SetDefault("logger.filePath", "")
	v.SetDefault("logger.maxSizeMB", 10)
	v.SetDefault("logger.maxBackups", 3)
	v.SetDefault("logger.maxAgeDays", 7)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.logHexDump", false)

	v.SetDefault("device.listen", fmt.Sprintf(":%d", upload.DefaultDevicePort))
	v.SetDefault("device.code", 0)
	v.SetDefault("device.deviceType", 0x21)
	v.SetDefault("device.outDir", ".")
}

// Load builds the configuration. An empty path looks for ev5.yaml in the
// working directory and carries on without it. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Load",
		"config_file": v.ConfigFileUsed(),
	}).Debug("Configuration loaded")

	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Upload.LocalPort < 0 || c.Upload.LocalPort > 0xFFFF {
		return fmt.Errorf("upload.localPort %d out of range", c.Upload.LocalPort)
	}
	if c.Upload.DevicePort <= 0 || c.Upload.DevicePort > 0xFFFF {
		return fmt.Errorf("upload.devicePort %d out of range", c.Upload.DevicePort)
	}
	for name, d := range map[string]time.Duration{
		"upload.pairingTimeout": c.Upload.PairingTimeout,
		"upload.resendInterval": c.Upload.ResendInterval,
		"upload.pollInterval":   c.Upload.PollInterval,
		"upload.uploadTimeout":  c.Upload.UploadTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Upload.SettleDelay < 0 || c.Upload.PageRetryInterval < 0 {
		return errors.New("upload.settleDelay and upload.pageRetryInterval must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Logger.Level); err != nil {
		return fmt.Errorf("invalid log level: %s, %w", c.Logger.Level, err)
	}
	switch strings.ToLower(c.Logger.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Logger.Format)
	}
	if c.Device.DeviceType < 0 || c.Device.DeviceType > 0xFF {
		return fmt.Errorf("device.deviceType %d out of range", c.Device.DeviceType)
	}
	return nil
}

// Resolver builds the local endpoint resolver selected by the config.
func (u UploadConfig) Resolver() (transport.LocalEndpointResolver, error) {
	return transport.NewLocalEndpointResolver(u.LocalEndpoint, u.LocalIP)
}

// Options converts the settings into uploader options.
func (u UploadConfig) Options() ([]upload.Option, error) {
	resolver, err := u.Resolver()
	if err != nil {
		return nil, err
	}

	return []upload.Option{
		upload.WithLocalPort(u.LocalPort),
		upload.WithDevicePort(u.DevicePort),
		upload.WithPairingTimeout(u.PairingTimeout),
		upload.WithResendInterval(u.ResendInterval),
		upload.WithSettleDelay(u.SettleDelay),
		upload.WithPollInterval(u.PollInterval),
		upload.WithUploadTimeout(u.UploadTimeout),
		upload.WithPageRetryInterval(u.PageRetryInterval),
		upload.WithResendOnChecksumMismatch(u.ResendOnChecksumMismatch),
		upload.WithResolver(resolver),
	}, nil
}
