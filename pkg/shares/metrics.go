package shares

import "time"

// Scan outcome labels reported to metrics.
const (
	ScanSucceeded = "succeeded"
	ScanCancelled = "cancelled"
	ScanFaulted   = "faulted"
)

// Metrics records share cache activity. Implementations must be safe for
// concurrent use. A nil Metrics disables instrumentation with zero
// overhead.
type Metrics interface {
	// ObserveScan records a finished scan with its outcome label and the
	// index size it left behind.
	ObserveScan(outcome string, duration time.Duration, files, directories int)

	// ObserveSearch records a search query and its result count.
	ObserveSearch(duration time.Duration, results int)
}
