package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransferStatesHas(t *testing.T) {
	s := StateCompleted | StateSucceeded

	assert.True(t, s.Has(StateCompleted))
	assert.True(t, s.Has(StateSucceeded))
	assert.True(t, s.Has(StateCompleted|StateSucceeded))
	assert.False(t, s.Has(StateCancelled))
	assert.False(t, s.Has(StateCompleted|StateCancelled))
}

func TestTransferStatesTerminal(t *testing.T) {
	tests := []struct {
		name     string
		state    TransferStates
		terminal bool
	}{
		{"none", StateNone, false},
		{"queued", StateQueued, false},
		{"in progress", StateInProgress, false},
		{"completed alone", StateCompleted, true},
		{"succeeded", StateCompleted | StateSucceeded, true},
		{"cancelled", StateCompleted | StateCancelled, true},
		{"errored", StateCompleted | StateErrored, true},
		{"rejected", StateCompleted | StateRejected, true},
		{"timed out", StateCompleted | StateTimedOut, true},
		{"disposition without completed is not terminal", StateSucceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}
}

func TestTransferStatesDisposition(t *testing.T) {
	assert.Equal(t, StateNone, StateInProgress.Disposition())
	assert.Equal(t, StateNone, StateSucceeded.Disposition(), "disposition requires Completed")
	assert.Equal(t, StateSucceeded, (StateCompleted | StateSucceeded).Disposition())
	assert.Equal(t, StateCancelled, (StateCompleted | StateCancelled).Disposition())
	assert.Equal(t, StateNone, StateCompleted.Disposition())
}

func TestTransferStatesString(t *testing.T) {
	assert.Equal(t, "None", StateNone.String())
	assert.Equal(t, "Queued", StateQueued.String())
	assert.Equal(t, "Completed, Succeeded", (StateCompleted | StateSucceeded).String())
	assert.Equal(t, "Initializing, InProgress", (StateInitializing | StateInProgress).String())
}

func TestTransferStatesDistinct(t *testing.T) {
	flags := []TransferStates{
		StateQueued, StateInitializing, StateInProgress, StateCompleted,
		StateSucceeded, StateCancelled, StateErrored, StateRejected, StateTimedOut,
	}

	seen := map[TransferStates]bool{}
	for _, f := range flags {
		assert.NotZero(t, f)
		assert.Zero(t, f&(f-1), "flag %v must be a power of two", f)
		assert.False(t, seen[f], "flag %v duplicated", f)
		seen[f] = true
	}
}
