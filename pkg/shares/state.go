package shares

import "time"

// State is the scan state broadcast by the cache monitor. Exactly one of
// Filling, Filled, Faulted or Cancelled describes the most recent scan
// outcome; Progress is meaningful only while Filling.
type State struct {
	// Filling is true while a scan is running.
	Filling bool `json:"filling"`

	// Filled is true once a scan has completed successfully and the index
	// is authoritative.
	Filled bool `json:"filled"`

	// Faulted is true when the last scan ended with an error. The live
	// index may be partially populated but is never destroyed.
	Faulted bool `json:"faulted"`

	// Cancelled is true when the last scan was cancelled before the
	// tombstone sweep; no rows were deleted.
	Cancelled bool `json:"cancelled"`

	// Progress is the fraction of directories processed, in [0, 1].
	Progress float64 `json:"progress"`

	Files               int `json:"files"`
	Directories         int `json:"directories"`
	ExcludedDirectories int `json:"excluded_directories"`

	// ScannedAt is the start timestamp of the last successful scan.
	ScannedAt time.Time `json:"scanned_at,omitempty"`
}
