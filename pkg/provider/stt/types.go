package stt

import "time"

// Result is a finished transcript for one audio file.
type Result struct {
	// Text is the full transcript as a single string.
	Text string

	// Segments holds timed utterances in file-local time. Backends that do not
	// report timing return a single segment spanning the whole file.
	Segments []Segment

	// Language is the detected or requested language, if the backend reports it.
	Language string
}

// Segment is one timed utterance.
type Segment struct {
	// Speaker is the diarisation label (e.g. "Speaker 1"). Empty when the
	// backend does not separate speakers.
	Speaker string

	Text  string
	Start time.Duration
	End   time.Duration
}

// JobState is the backend-reported state of an asynchronous job.
type JobState int

const (
	// JobRunning means the backend is still working.
	JobRunning JobState = iota

	// JobDone means the job succeeded and Locator identifies the result.
	JobDone

	// JobFailed means the backend gave up; Reason explains why.
	JobFailed
)

// String returns the lower-case name of the state.
func (s JobState) String() string {
	switch s {
	case JobRunning:
		return "running"
	case JobDone:
		return "done"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// JobStatus is the answer to a single poll.
type JobStatus struct {
	State   JobState
	Locator string
	Reason  string
}
