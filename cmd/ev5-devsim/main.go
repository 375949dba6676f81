// Package main runs a simulated EV5 device that accepts Wi-Fi uploads and
// writes the received image to disk. Useful for bench testing the uploader
// without hardware.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/JMRMEDEV/ev5-dev-tools/config"
	"github.com/JMRMEDEV/ev5-dev-tools/devsim"
	"github.com/JMRMEDEV/ev5-dev-tools/logging"
	"github.com/JMRMEDEV/ev5-dev-tools/protocol"
	"github.com/JMRMEDEV/ev5-dev-tools/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil))
}

func newFlagSet(configPath *string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("ev5-devsim", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(configPath, "config", "", "YAML configuration file (default ./ev5.yaml if present)")
	fs.String("listen", ":28000", "UDP address to listen on")
	fs.String("code", "", "Pairing code the device accepts (overrides device.code)")
	fs.Int("device-type", int(devsim.DefaultDeviceType), "Device type reported to the host")
	fs.String("out", ".", "Directory the received image is written to")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text, json)")
	fs.String("log-file", "", "Also write logs to this rotated file")
	fs.Bool("hex-dump", false, "Log every datagram in hex at debug level")
	return fs
}

// run serves one upload and returns the exit code. ready, when non-nil,
// receives the bound address once the device is listening.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, ready chan<- string) int {
	var configPath string
	fs := newFlagSet(&configPath, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}

	cfg, err := config.Load(configPath, fs)
	if err != nil {
		fmt.Fprintf(stderr, "❌ Configuration error: %v\n", err)
		return 1
	}

	code := protocol.PairingCode(cfg.Device.Code)
	if raw, _ := fs.GetString("code"); raw != "" {
		code, err = protocol.ParsePairingCode(raw)
		if err != nil {
			fmt.Fprintf(stderr, "❌ %v\n", err)
			return 1
		}
	}
	if err := code.Validate(); err != nil {
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}

	if err := logging.Init(cfg.Logger); err != nil {
		fmt.Fprintf(stderr, "❌ Logging error: %v\n", err)
		return 1
	}
	defer logging.Close()

	tr, err := transport.NewUDPTransport(cfg.Device.Listen)
	if err != nil {
		fmt.Fprintf(stderr, "❌ Listen failed: %v\n", err)
		return 1
	}
	tr.EnableHexDump(cfg.Logger.LogHexDump)

	dev := devsim.New(tr,
		devsim.WithCode(code),
		devsim.WithDeviceType(byte(cfg.Device.DeviceType)),
	)
	defer dev.Close()

	fmt.Fprintf(stdout, "📡 Simulated EV5 listening on %s (code %s)\n", tr.LocalAddr(), code)
	if ready != nil {
		ready <- tr.LocalAddr().String()
	}

	select {
	case <-dev.Done():
	case <-ctx.Done():
		fmt.Fprintln(stderr, "🛑 Stopped before an image was received.")
		return 1
	}

	path, err := dev.WriteImage(cfg.Device.OutDir)
	if err != nil {
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}

	stats := dev.Stats()
	logrus.WithFields(logrus.Fields{
		"function":     "run",
		"path":         path,
		"pages":        stats.PageTotal,
		"acks_sent":    stats.AcksSent,
		"data_frames":  stats.DataFrames,
		"host_address": stats.HostAnnounce.String(),
	}).Info("Image written")

	fmt.Fprintf(stdout, "✅ Received %s (%d pages) -> %s\n", dev.FileName(), stats.PageTotal, path)
	return 0
}
