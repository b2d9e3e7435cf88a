// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber for synchronous backends and JobBackend for asynchronous
// ones. JobBackend replays a scripted sequence of poll answers, which makes it
// easy to drive a job through running, running, done:
//
//	b := &mock.JobBackend{
//	    JobID: "j1",
//	    Polls: []mock.PollResponse{
//	        {Status: stt.JobStatus{State: stt.JobRunning}},
//	        {Status: stt.JobStatus{State: stt.JobDone, Locator: "loc"}},
//	    },
//	    FetchResult: &stt.Result{Text: "hello"},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	Path string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe when ResultFunc is nil.
	Result *stt.Result

	// ResultFunc, if set, computes the answer per call. It takes precedence
	// over Result and Err.
	ResultFunc func(path string) (*stt.Result, error)

	// Err is returned by Transcribe when ResultFunc is nil.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured answer.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranscribeCall{Path: path})
	fn, res, err := t.ResultFunc, t.Result, t.Err
	t.mu.Unlock()

	if e := ctx.Err(); e != nil {
		return nil, e
	}
	if fn != nil {
		return fn(path)
	}
	return res, err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

var _ stt.Transcriber = (*Transcriber)(nil)

// PollResponse is one scripted answer for JobBackend.Poll.
type PollResponse struct {
	Status stt.JobStatus
	Err    error
}

// JobBackend is a mock implementation of stt.JobBackend.
type JobBackend struct {
	mu sync.Mutex

	// JobID is returned by Submit.
	JobID string

	// SubmitErr, if non-nil, is returned by Submit.
	SubmitErr error

	// Polls is replayed in order. Once exhausted the last entry repeats. An
	// empty script reports JobRunning forever.
	Polls []PollResponse

	// FetchResult and FetchErr are returned by Fetch.
	FetchResult *stt.Result
	FetchErr    error

	// SubmitPaths, PollIDs and FetchLocators record the arguments of each call.
	SubmitPaths   []string
	PollIDs       []string
	FetchLocators []string
}

// Submit records the call and returns JobID, SubmitErr.
func (b *JobBackend) Submit(_ context.Context, path string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SubmitPaths = append(b.SubmitPaths, path)
	if b.SubmitErr != nil {
		return "", b.SubmitErr
	}
	return b.JobID, nil
}

// Poll records the call and returns the next scripted answer.
func (b *JobBackend) Poll(_ context.Context, jobID string) (stt.JobStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.PollIDs)
	b.PollIDs = append(b.PollIDs, jobID)
	if len(b.Polls) == 0 {
		return stt.JobStatus{State: stt.JobRunning}, nil
	}
	if n >= len(b.Polls) {
		n = len(b.Polls) - 1
	}
	r := b.Polls[n]
	return r.Status, r.Err
}

// Fetch records the call and returns FetchResult, FetchErr.
func (b *JobBackend) Fetch(_ context.Context, locator string) (*stt.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FetchLocators = append(b.FetchLocators, locator)
	return b.FetchResult, b.FetchErr
}

// PollCount returns the number of Poll calls. Thread-safe.
func (b *JobBackend) PollCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.PollIDs)
}

// SubmitCount returns the number of Submit calls. Thread-safe.
func (b *JobBackend) SubmitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.SubmitPaths)
}

var _ stt.JobBackend = (*JobBackend)(nil)
