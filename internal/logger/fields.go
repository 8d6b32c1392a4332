package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that transfers,
// shares, and peer activity can be correlated during log aggregation.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Operation
	// ========================================================================
	KeyOperation = "operation" // Operation name: enqueue, search, browse, rescan, etc.
	KeyStatus    = "status"    // Operation status (protocol-specific)
	KeyReason    = "reason"    // Rejection or failure reason sent to the peer

	// ========================================================================
	// Peer Identification
	// ========================================================================
	KeyUsername = "username"  // Remote peer username
	KeyRemoteIP = "remote_ip" // Remote peer IP address
	KeyGroup    = "group"     // Configured peer group name

	// ========================================================================
	// Files & Shares
	// ========================================================================
	KeyFilename  = "filename"  // Remote (masked) filename
	KeyPath      = "path"      // Local filesystem path
	KeyShare     = "share"     // Share alias or root path
	KeyDirectory = "directory" // Masked directory name
	KeySize      = "size"      // File size in bytes

	// ========================================================================
	// Transfer Lifecycle
	// ========================================================================
	KeyTransferID = "transfer_id" // Transfer identifier
	KeyDirection  = "direction"   // Transfer direction: upload, download
	KeyState      = "state"       // Transfer state flags
	KeyOffset     = "offset"      // Requested start offset
	KeyBytesSent  = "bytes_sent"  // Bytes transferred so far
	KeySpeed      = "speed"       // Average transfer speed in bytes/sec
	KeyPosition   = "position"    // Position in the upload queue
	KeySlots      = "slots"       // Slot count (granted or configured)
	KeyUsedSlots  = "used_slots"  // Slots currently held

	// ========================================================================
	// Bandwidth Governor
	// ========================================================================
	KeyRequested = "requested" // Bytes requested from the governor
	KeyGranted   = "granted"   // Bytes granted by the governor
	KeyReturned  = "returned"  // Unused bytes returned to the bucket
	KeyLimit     = "limit"     // Configured speed limit in KiB/s

	// ========================================================================
	// Share Scanning
	// ========================================================================
	KeyFiles       = "files"       // Number of files
	KeyDirectories = "directories" // Number of directories
	KeyScanEpoch   = "scan_epoch"  // Timestamp marker of the active scan
	KeyElapsed     = "elapsed"     // Total scan duration

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyCount      = "count"       // Generic result count
	KeyDatabase   = "database"    // Database backend or path
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Operation returns a slog.Attr for the operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Status returns a slog.Attr for an operation status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Reason returns a slog.Attr for a rejection or failure reason
func Reason(r string) slog.Attr {
	return slog.String(KeyReason, r)
}

// Username returns a slog.Attr for a remote peer username
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// RemoteIP returns a slog.Attr for the remote peer IP address
func RemoteIP(addr string) slog.Attr {
	return slog.String(KeyRemoteIP, addr)
}

// Group returns a slog.Attr for a configured peer group
func Group(name string) slog.Attr {
	return slog.String(KeyGroup, name)
}

// Filename returns a slog.Attr for a remote (masked) filename
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Path returns a slog.Attr for a local filesystem path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Share returns a slog.Attr for a share alias or root path
func Share(name string) slog.Attr {
	return slog.String(KeyShare, name)
}

// Directory returns a slog.Attr for a masked directory name
func Directory(name string) slog.Attr {
	return slog.String(KeyDirectory, name)
}

// Size returns a slog.Attr for a file size in bytes
func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// TransferID returns a slog.Attr for a transfer identifier
func TransferID(id string) slog.Attr {
	return slog.String(KeyTransferID, id)
}

// Direction returns a slog.Attr for a transfer direction
func Direction(d string) slog.Attr {
	return slog.String(KeyDirection, d)
}

// State returns a slog.Attr for transfer state flags
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// Offset returns a slog.Attr for a requested start offset
func Offset(off int64) slog.Attr {
	return slog.Int64(KeyOffset, off)
}

// BytesSent returns a slog.Attr for bytes transferred so far
func BytesSent(n int64) slog.Attr {
	return slog.Int64(KeyBytesSent, n)
}

// Speed returns a slog.Attr for average transfer speed in bytes/sec
func Speed(bps float64) slog.Attr {
	return slog.Float64(KeySpeed, bps)
}

// Position returns a slog.Attr for a queue position
func Position(p int) slog.Attr {
	return slog.Int(KeyPosition, p)
}

// Slots returns a slog.Attr for a slot count
func Slots(n int) slog.Attr {
	return slog.Int(KeySlots, n)
}

// UsedSlots returns a slog.Attr for slots currently held
func UsedSlots(n int) slog.Attr {
	return slog.Int(KeyUsedSlots, n)
}

// Requested returns a slog.Attr for bytes requested from the governor
func Requested(n int) slog.Attr {
	return slog.Int(KeyRequested, n)
}

// Granted returns a slog.Attr for bytes granted by the governor
func Granted(n int) slog.Attr {
	return slog.Int(KeyGranted, n)
}

// Returned returns a slog.Attr for unused bytes returned to the bucket
func Returned(n int) slog.Attr {
	return slog.Int(KeyReturned, n)
}

// Limit returns a slog.Attr for a speed limit in KiB/s
func Limit(kbps int) slog.Attr {
	return slog.Int(KeyLimit, kbps)
}

// Files returns a slog.Attr for a file count
func Files(n int) slog.Attr {
	return slog.Int(KeyFiles, n)
}

// Directories returns a slog.Attr for a directory count
func Directories(n int) slog.Attr {
	return slog.Int(KeyDirectories, n)
}

// ScanEpoch returns a slog.Attr for the timestamp marker of a scan
func ScanEpoch(epoch int64) slog.Attr {
	return slog.Int64(KeyScanEpoch, epoch)
}

// Elapsed returns a slog.Attr for a total duration
func Elapsed(d time.Duration) slog.Attr {
	return slog.Duration(KeyElapsed, d)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Count returns a slog.Attr for a generic result count
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Database returns a slog.Attr for a database backend or path
func Database(name string) slog.Attr {
	return slog.String(KeyDatabase, name)
}
