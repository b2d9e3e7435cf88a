// Package stt defines the contracts for batch Speech-to-Text backends.
//
// A backend turns one audio file (usually a chunk cut from a longer recording)
// into text plus timed segments. Two shapes exist:
//
//   - [Transcriber] is synchronous: one call returns the finished transcript.
//     Local whisper.cpp, the OpenAI audio API and Deepgram's pre-recorded API
//     all work this way.
//   - [JobBackend] is asynchronous: the audio is submitted, the returned job id
//     is polled until the backend reports a terminal state, and the result is
//     fetched through the locator carried by the completed status. Cloud
//     long-running recognition works this way.
//
// Timestamps in a [Result] are always local to the submitted file. Mapping them
// onto the original recording's timeline is the caller's job.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned by [JobBackend.Poll] and [JobBackend.Fetch] when
// the backend no longer knows the job, e.g. because it expired.
var ErrJobNotFound = errors.New("stt: job not found")

// Transcriber is a synchronous transcription backend.
type Transcriber interface {
	// Transcribe reads the audio file at path and returns its transcript.
	// Returns an error if the file cannot be read, the backend rejects it, or
	// ctx is cancelled before the backend answers.
	Transcribe(ctx context.Context, path string) (*Result, error)
}

// JobBackend is an asynchronous transcription backend.
//
// Submit and Poll must not block for the duration of the recognition itself.
// Poll returns a non-nil error only when the status could not be determined
// (network failure, throttling); a job the backend reports as failed is a
// successful poll with State set to [JobFailed].
type JobBackend interface {
	// Submit uploads or references the audio at path and starts recognition.
	// The returned job id is stable and may be persisted to resume polling
	// after a restart.
	Submit(ctx context.Context, path string) (jobID string, err error)

	// Poll queries the current state of jobID.
	Poll(ctx context.Context, jobID string) (JobStatus, error)

	// Fetch retrieves the finished transcript identified by locator, as carried
	// by a completed JobStatus.
	Fetch(ctx context.Context, locator string) (*Result, error)
}
