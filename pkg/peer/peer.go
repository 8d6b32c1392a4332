// Package peer defines the surface this daemon consumes from the
// peer-protocol library: the transfer snapshot and state flags the library
// reports, the callback bundle an upload hands to it, and the Client
// interface the upload service drives. The wire codec behind Client is
// external and opaque.
package peer

import (
	"context"
	"errors"
	"io"
	"time"
)

// Direction identifies which way bytes flow for a transfer.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Transfer is the peer library's snapshot of a single transfer. The upload
// service merges these snapshots into its persistent records; the library
// owns the values while the transfer is live.
type Transfer struct {
	Username         string
	Filename         string
	Size             int64
	StartOffset      int64
	BytesTransferred int64
	AverageSpeed     float64
	StartedAt        *time.Time
	EndedAt          *time.Time
	State            TransferStates
	Exception        string
}

// StateChange is delivered on every transfer state transition.
type StateChange struct {
	Previous TransferStates
	Current  TransferStates
	Transfer Transfer
}

// Progress is delivered as bytes move. Delivery frequency is up to the
// library; consumers are expected to coalesce.
type Progress struct {
	Transfer Transfer
}

// StreamFactory opens the content stream for an upload, positioned at the
// given start offset.
type StreamFactory func(offset int64) (io.ReadCloser, error)

// UploadOptions is the callback bundle a caller supplies to Client.Upload.
// All callbacks are optional; nil callbacks are skipped by the library.
type UploadOptions struct {
	// StateChanged is invoked on every state transition, including the
	// terminal one.
	StateChanged func(StateChange)

	// ProgressUpdated is invoked as bytes are transmitted.
	ProgressUpdated func(Progress)

	// Governor is consulted before each write for permission to send up to
	// requested bytes. It may grant fewer. It blocks until at least one byte
	// is available or ctx fires.
	Governor func(ctx context.Context, requested int) (int, error)

	// Reporter is informed after each write how many of the granted bytes
	// were actually consumed, so unused grants can be recredited.
	Reporter func(attempted, granted, actual int)

	// SlotAwaiter blocks until the upload is admitted to an upload slot or
	// ctx fires. The library calls it once, after the remote peer has
	// acknowledged the queued transfer.
	SlotAwaiter func(ctx context.Context) error

	// SlotReleased is invoked exactly once after the transfer leaves its
	// slot, regardless of disposition.
	SlotReleased func()

	// SeekInput tells the library to seek the input stream to the start
	// offset itself. The upload service positions streams in its factory,
	// so it sets this false.
	SeekInput bool

	// CloseInput tells the library to close the input stream when the
	// transfer completes.
	CloseInput bool
}

// Client is the peer-protocol operation set the upload service drives.
type Client interface {
	// Upload transmits a file to username, pulling bytes from the factory
	// stream. It blocks until the transfer reaches a terminal state and
	// returns the final snapshot. The returned error is non-nil for
	// cancellation, rejection, timeout, and transport failures; the final
	// snapshot carries the matching disposition flags.
	Upload(ctx context.Context, username, filename string, size int64, factory StreamFactory, opts UploadOptions) (Transfer, error)
}

// ErrNoTransport is returned by Unconnected when an upload is attempted
// without a peer transport wired in.
var ErrNoTransport = errors.New("peer: no transport configured")

// Unconnected is a Client for deployments that have not wired a peer
// transport. Every upload fails immediately with ErrNoTransport.
type Unconnected struct{}

var _ Client = Unconnected{}

func (Unconnected) Upload(_ context.Context, username, filename string, size int64, _ StreamFactory, _ UploadOptions) (Transfer, error) {
	return Transfer{
		Username: username,
		Filename: filename,
		Size:     size,
		State:    StateCompleted | StateErrored,
	}, ErrNoTransport
}
