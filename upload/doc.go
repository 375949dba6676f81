// Package upload sends firmware images to an EV5 device over Wi-Fi.
//
// An upload runs in four phases:
//
//   - pairing: the host sends a pairing-code probe and a handshake probe to
//     the device and waits for an ack carrying the same code
//   - configuring: after priming user-space mode the host walks the
//     configuration steps (device type, file name, date, page size, page
//     count, start), re-sending each step until it is acknowledged
//   - transfer: pages are sent one at a time and each is acknowledged by
//     the device echoing the page checksum
//   - complete: the transfer is done and Upload returns the elapsed time
//
// # Usage
//
//	code, _ := protocol.ParsePairingCode("123456")
//	elapsed, err := upload.New().Upload(ctx, "main.bin", "192.168.1.50", code)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("uploaded in %s\n", elapsed)
//
// # Concurrency
//
// Inbound frames and timer firings are posted to a single goroutine that
// owns the session state. Timers are tagged with a token so a firing that
// raced a cancellation is discarded.
//
// # Errors
//
// ErrFileNotFound, ErrPairingTimeout and ErrUploadTimeout are terminal and
// match with errors.Is. Malformed datagrams never reach the caller; they
// are logged and dropped.
//
// Page acknowledgments drive the transfer. By default a lost page ack is
// only recovered by the overall timeout; WithPageRetryInterval and
// WithResendOnChecksumMismatch enable active recovery.
package upload
