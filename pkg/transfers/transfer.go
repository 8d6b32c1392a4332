// Package transfers implements the upload control plane: the durable
// transfer ledger, the slot admission queue, the bandwidth governor, and the
// upload service that drives each transfer through its lifecycle.
package transfers

import (
	"time"

	"gorm.io/gorm"

	"github.com/seekd/seekd/pkg/peer"
)

// Transfer is the durable ledger record of a single transfer attempt. A row
// is created when an upload is admitted, mutated only by the upload service
// under the per-transfer exclusion, and never hard-deleted: superseded or
// retired rows are soft-deleted via the Removed flag.
type Transfer struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Direction peer.Direction `gorm:"not null;size:16;index:idx_transfers_key,priority:1" json:"direction"`
	Username  string         `gorm:"not null;size:255;index:idx_transfers_key,priority:2" json:"username"`

	// Filename is the masked, remote-facing path the peer requested.
	Filename string `gorm:"not null;index:idx_transfers_key,priority:3" json:"filename"`

	Size        int64 `gorm:"not null" json:"size"`
	StartOffset int64 `gorm:"not null;default:0" json:"start_offset"`

	// State is the bit-flag set from pkg/peer, stored as an integer column.
	State peer.TransferStates `gorm:"not null;default:0" json:"state"`

	RequestedAt time.Time  `gorm:"not null" json:"requested_at"`
	EnqueuedAt  *time.Time `json:"enqueued_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	BytesTransferred int64   `gorm:"not null;default:0" json:"bytes_transferred"`
	AverageSpeed     float64 `gorm:"not null;default:0" json:"average_speed"`

	Exception *string `json:"exception,omitempty"`

	// Removed marks the row as soft-deleted. It may become true only once
	// State is terminal, or when the row is superseded by a fresh attempt
	// for the same (username, filename) pair.
	Removed bool `gorm:"not null;default:false;index" json:"removed"`
}

// TableName returns the table name for Transfer.
func (Transfer) TableName() string {
	return "transfers"
}

// Terminal reports whether the transfer has reached a terminal state.
func (t *Transfer) Terminal() bool {
	return t.State.Terminal()
}

// Clone returns a shallow copy. Time pointers are duplicated so the copy can
// be mutated independently.
func (t *Transfer) Clone() *Transfer {
	c := *t
	c.EnqueuedAt = cloneTime(t.EnqueuedAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.EndedAt = cloneTime(t.EndedAt)
	if t.Exception != nil {
		exc := *t.Exception
		c.Exception = &exc
	}
	return &c
}

// BeforeSave normalizes all timestamps to UTC before they hit the database.
func (t *Transfer) BeforeSave(*gorm.DB) error {
	t.normalizeUTC()
	return nil
}

// AfterFind normalizes timestamps read back from the database to UTC.
func (t *Transfer) AfterFind(*gorm.DB) error {
	t.normalizeUTC()
	return nil
}

func (t *Transfer) normalizeUTC() {
	t.RequestedAt = t.RequestedAt.UTC()
	if t.EnqueuedAt != nil {
		utc := t.EnqueuedAt.UTC()
		t.EnqueuedAt = &utc
	}
	if t.StartedAt != nil {
		utc := t.StartedAt.UTC()
		t.StartedAt = &utc
	}
	if t.EndedAt != nil {
		utc := t.EndedAt.UTC()
		t.EndedAt = &utc
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
