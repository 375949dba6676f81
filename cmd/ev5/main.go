// Package main provides the ev5 command-line tool for uploading firmware
// images to EV5 devices over Wi-Fi.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/JMRMEDEV/ev5-dev-tools/config"
	"github.com/JMRMEDEV/ev5-dev-tools/logging"
	"github.com/JMRMEDEV/ev5-dev-tools/protocol"
	"github.com/JMRMEDEV/ev5-dev-tools/upload"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultProgram = "main"

// uploadFlags holds the upload subcommand options that are not part of
// the layered configuration.
type uploadFlags struct {
	wifi       bool
	program    string
	ip         string
	code       string
	configPath string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			printVersion(stdout)
			return 0
		}
	}

	if len(args) == 0 {
		fmt.Fprintln(stderr, "Unknown or missing command.")
		fmt.Fprintln(stderr)
		printUsage(stderr)
		return 1
	}

	switch args[0] {
	case "upload":
		return runUpload(ctx, args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command %q.\n\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ev5-dev-tools %s\n", version)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  ev5 upload --wifi --ip=<device-ip> --code=<pairing-code> [--program=<name>] [options]")
	fmt.Fprintln(w, "      Upload <name>.bin (default main.bin) to an EV5 device over Wi-Fi.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  ev5 version")
	fmt.Fprintln(w, "      Show the tool version.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  ev5 help")
	fmt.Fprintln(w, "      Show this message. Use 'ev5 upload --help' for upload options.")
}

// newUploadFlagSet declares the upload flags. Flags named in config's flag
// table override file and environment settings.
func newUploadFlagSet(opts *uploadFlags, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("upload", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&opts.wifi, "wifi", false, "Upload over Wi-Fi")
	fs.StringVar(&opts.program, "program", defaultProgram, "Program name; <name>.bin is uploaded")
	fs.StringVar(&opts.ip, "ip", "", "Device IPv4 address")
	fs.StringVar(&opts.code, "code", "", "Decimal pairing code shown by the device")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file (default ./ev5.yaml if present)")

	fs.Int("local-port", upload.DefaultLocalPort, "Local UDP port")
	fs.Int("device-port", upload.DefaultDevicePort, "Device UDP port")
	fs.Duration("pairing-timeout", upload.DefaultPairingTimeout, "Time to wait for the pairing ack")
	fs.Duration("resend-interval", upload.DefaultResendInterval, "Configuration step re-send interval")
	fs.Duration("upload-timeout", upload.DefaultUploadTimeout, "Overall upload timeout")
	fs.Duration("page-retry", 0, "Re-send a page after this long without an ack (0 disables)")
	fs.Bool("resend-on-mismatch", false, "Re-send a page when the device reports a wrong checksum")
	fs.String("local-endpoint", "subnet-guess", "Handshake address strategy: subnet-guess, interface or auto")
	fs.String("local-ip", "", "Fixed handshake address, overrides --local-endpoint")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text, json)")
	fs.String("log-file", "", "Also write logs to this rotated file")
	fs.Bool("hex-dump", false, "Log every datagram in hex at debug level")

	return fs
}

// imagePath appends .bin to the program name unless already present.
func imagePath(program string) string {
	if strings.HasSuffix(program, ".bin") {
		return program
	}
	return program + ".bin"
}

func runUpload(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts uploadFlags
	fs := newUploadFlagSet(&opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}

	if !opts.wifi {
		fmt.Fprintf(stderr, "Wired upload copies %s to the EV5 USB volume and is not handled by this tool.\n", imagePath(opts.program))
		fmt.Fprintln(stderr, "Use --wifi with --ip and --code to upload over Wi-Fi.")
		return 1
	}

	if opts.ip == "" {
		fmt.Fprintln(stderr, "❌ Missing --ip=<device-ip>.")
		return 1
	}
	if opts.code == "" {
		fmt.Fprintln(stderr, "❌ Missing --code=<pairing-code>.")
		return 1
	}
	code, err := protocol.ParsePairingCode(opts.code)
	if err == nil {
		err = code.Validate()
	}
	if err != nil {
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}

	cfg, err := config.Load(opts.configPath, fs)
	if err != nil {
		fmt.Fprintf(stderr, "❌ Configuration error: %v\n", err)
		return 1
	}
	if err := logging.Init(cfg.Logger); err != nil {
		fmt.Fprintf(stderr, "❌ Logging error: %v\n", err)
		return 1
	}
	defer logging.Close()

	uploadOpts, err := cfg.Upload.Options()
	if err != nil {
		fmt.Fprintf(stderr, "❌ Configuration error: %v\n", err)
		return 1
	}
	uploadOpts = append(uploadOpts,
		upload.WithHexDump(cfg.Logger.LogHexDump),
		upload.WithProgressCallback(progressPrinter(stdout)),
	)

	path := imagePath(opts.program)
	fmt.Fprintf(stdout, "📤 Uploading %s to %s over Wi-Fi...\n", path, opts.ip)

	elapsed, err := upload.New(uploadOpts...).Upload(ctx, path, opts.ip, code)
	if err != nil {
		fmt.Fprintf(stderr, "❌ Upload failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "✅ Upload complete in %s.\n", elapsed.Round(time.Millisecond))
	return 0
}

// progressPrinter prints phase changes and whole-percent transfer steps.
func progressPrinter(w io.Writer) upload.ProgressCallback {
	lastPhase := ""
	lastPercent := -1
	return func(p upload.Progress) {
		if p.Phase != lastPhase {
			lastPhase = p.Phase
			switch p.Phase {
			case upload.PhasePairing:
				fmt.Fprintln(w, "Pairing with device...")
			case upload.PhaseConfiguring:
				fmt.Fprintln(w, "Connected, configuring download...")
			case upload.PhaseTransfer:
				fmt.Fprintf(w, "Sending %d pages...\n", p.TotalPages)
			}
		}
		if p.Phase == upload.PhaseTransfer || p.Phase == upload.PhaseComplete {
			percent := int(p.Percentage)
			if percent != lastPercent {
				lastPercent = percent
				fmt.Fprintf(w, "Sending file data... %d%%\n", percent)
			}
		}
	}
}

// setupSignalHandling cancels the upload on interrupt.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\n🛑 Received signal %v, cancelling upload...\n", sig)
		cancel()
	}()
}
