package transfers

import (
	"errors"
	"fmt"
)

// Common errors for transfer and upload queue operations.
var (
	// ErrTransferNotFound is returned when no transfer exists for an id.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrNotTerminal is returned when removing a transfer that has not
	// reached a terminal state.
	ErrNotTerminal = errors.New("transfer is not in a terminal state")

	// ErrNotQueued is returned by the queue when no entry exists for the
	// (username, filename) pair in the user's group.
	ErrNotQueued = errors.New("upload is not queued")
)

// EnqueueError reports that an upload request was rejected at admission,
// before any transfer record or background task was created. The Reason is
// the remote-facing rejection message.
type EnqueueError struct {
	Username string
	Filename string
	Reason   string
	Err      error
}

func (e *EnqueueError) Error() string {
	msg := fmt.Sprintf("enqueue upload %q for %s: %s", e.Filename, e.Username, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EnqueueError) Unwrap() error {
	return e.Err
}
