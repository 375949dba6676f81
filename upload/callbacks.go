package upload

import "time"

// Phase names reported through Progress.
const (
	PhasePairing     = "pairing"
	PhaseConfiguring = "configuring"
	PhaseTransfer    = "transfer"
	PhaseComplete    = "complete"
)

// Progress describes the state of an upload.
// Passed to ProgressCallback as the session moves forward.
type Progress struct {
	// Phase is one of the Phase* constants.
	Phase string

	// Step is the configuration step, meaningful while configuring.
	Step Step

	// CurrentPage is the number of pages acknowledged so far.
	CurrentPage int

	// TotalPages is the page count of the image.
	TotalPages int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time elapsed since the upload started
	ElapsedTime time.Duration
}

// ProgressCallback is called from the session goroutine and must return
// quickly.
//
// Example:
//
//	up := upload.New(upload.WithProgressCallback(func(p upload.Progress) {
//	    fmt.Printf("[%s] %.0f%% - page %d/%d\n",
//	        p.Phase, p.Percentage, p.CurrentPage, p.TotalPages)
//	}))
type ProgressCallback func(Progress)
