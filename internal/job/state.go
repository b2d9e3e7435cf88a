// Package job drives transcription backend calls to a terminal state.
//
// Asynchronous backends are submitted once, then polled at a fixed interval
// until they report success or failure, the wait ceiling elapses, or the
// caller cancels. Every transition is published on the event bus and written
// to a [Journal] so a restarted process can resume polling instead of
// resubmitting. Synchronous backends degenerate to Submitted → Completed or
// Failed.
//
// State transitions:
//
//	Submitted ──→ Polling ──→ Completed | Failed | TimedOut
//	    │            │
//	    │            └──→ Cancelled
//	    └──→ Completed | Failed | Cancelled
package job

import "fmt"

// State is the tracker-side state of one transcription job.
type State int

const (
	Submitted State = iota
	Polling
	Completed
	Failed
	TimedOut
	Cancelled
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Polling:
		return "polling"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseState is the inverse of [State.String].
func ParseState(s string) (State, error) {
	for st := Submitted; st <= Cancelled; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("job: unknown state %q", s)
}

// IsTerminal reports whether no further transition can leave s.
//
// TimedOut is terminal for the tracker even though the remote job may still
// finish; a later [Tracker.Resume] starts a new wait.
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Failed, TimedOut, Cancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to State) bool {
	switch from {
	case Submitted:
		switch to {
		case Polling, Completed, Failed, Cancelled:
			return true
		}
	case Polling:
		switch to {
		case Completed, Failed, TimedOut, Cancelled:
			return true
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
