package transfers

import "time"

// TransferMetrics records upload scheduling activity. Implementations must
// be safe for concurrent use. A nil TransferMetrics disables instrumentation
// with zero overhead.
type TransferMetrics interface {
	// ObserveEnqueued records a newly admitted upload request.
	ObserveEnqueued()

	// ObserveRejected records an upload request refused at admission.
	ObserveRejected(reason string)

	// ObserveCompleted records a terminal transfer with its disposition
	// ("Succeeded", "Cancelled", ...), total duration and bytes sent.
	ObserveCompleted(disposition string, duration time.Duration, bytes int64)

	// ObserveAdmitted records a queue entry receiving a slot after waiting.
	ObserveAdmitted(group string, waited time.Duration)

	// SetQueueDepth publishes the number of pending entries in a group.
	SetQueueDepth(group string, depth int)

	// SetUsedSlots publishes the number of slots a group currently holds.
	SetUsedSlots(group string, used int)

	// ObserveBytesGranted records bytes handed out by the governor.
	ObserveBytesGranted(group string, bytes int)

	// ObserveBytesReturned records unused bytes credited back.
	ObserveBytesReturned(group string, bytes int)
}
