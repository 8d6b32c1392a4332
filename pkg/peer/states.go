package peer

import "strings"

// TransferStates is a bit-flag set describing the lifecycle position of a
// transfer as reported by the peer-protocol library.
//
// A transfer is terminal exactly when the set contains StateCompleted. The
// disposition flags (Succeeded, Cancelled, Errored, Rejected, TimedOut) are
// mutually exclusive and only meaningful alongside StateCompleted.
type TransferStates uint32

const (
	StateQueued TransferStates = 1 << iota
	StateInitializing
	StateInProgress
	StateCompleted
	StateSucceeded
	StateCancelled
	StateErrored
	StateRejected
	StateTimedOut
)

// StateNone is the empty flag set.
const StateNone TransferStates = 0

// stateNames is ordered by flag value for deterministic String output.
var stateNames = []struct {
	flag TransferStates
	name string
}{
	{StateQueued, "Queued"},
	{StateInitializing, "Initializing"},
	{StateInProgress, "InProgress"},
	{StateCompleted, "Completed"},
	{StateSucceeded, "Succeeded"},
	{StateCancelled, "Cancelled"},
	{StateErrored, "Errored"},
	{StateRejected, "Rejected"},
	{StateTimedOut, "TimedOut"},
}

// Has reports whether every flag in other is set.
func (s TransferStates) Has(other TransferStates) bool {
	return s&other == other
}

// Terminal reports whether the transfer has finished. Terminal states always
// include StateCompleted.
func (s TransferStates) Terminal() bool {
	return s.Has(StateCompleted)
}

// Disposition returns the terminal disposition flag, or StateNone if the
// state is not terminal.
func (s TransferStates) Disposition() TransferStates {
	if !s.Terminal() {
		return StateNone
	}
	for _, d := range []TransferStates{StateSucceeded, StateCancelled, StateErrored, StateRejected, StateTimedOut} {
		if s.Has(d) {
			return d
		}
	}
	return StateNone
}

// String returns the comma-joined names of all set flags, or "None".
func (s TransferStates) String() string {
	if s == StateNone {
		return "None"
	}
	var names []string
	for _, entry := range stateNames {
		if s.Has(entry.flag) {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, ", ")
}
