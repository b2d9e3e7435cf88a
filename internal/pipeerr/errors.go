// Package pipeerr defines the error taxonomy shared by every stage of the
// recording pipeline.
//
// Plain failures are sentinel values compared with [errors.Is]. Failures that
// carry data are typed errors ([ReassemblyError], [JobFailedError],
// [EngineUnavailableError]) that also match their category sentinel, so callers
// can branch on the category without caring about the payload:
//
//	if errors.Is(err, pipeerr.ErrReassemblyFailed) { ... }
//
//	var re *pipeerr.ReassemblyError
//	if errors.As(err, &re) { log(re.Missing) }
package pipeerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationMissing means a backend or engine was asked to run
	// without the credentials or endpoint it needs.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrChunkExportFailed means the exporter could not produce a chunk file.
	ErrChunkExportFailed = errors.New("chunk export failed")

	// ErrReassemblyFailed is the category of every [ReassemblyError].
	ErrReassemblyFailed = errors.New("reassembly failed")

	// ErrJobSubmitFailed means an asynchronous transcription job could not be
	// submitted.
	ErrJobSubmitFailed = errors.New("job submit failed")

	// ErrJobPollFailed means a single status poll failed. It is transient and
	// retried until the job ceiling is exhausted.
	ErrJobPollFailed = errors.New("job poll failed")

	// ErrJobFailed is the category of every [JobFailedError].
	ErrJobFailed = errors.New("job failed")

	// ErrJobNotFound means the backend no longer knows the job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTimedOut means the wait ceiling elapsed before the job finished.
	// The remote job is left running.
	ErrJobTimedOut = errors.New("job timed out")

	// ErrInvalidResultFormat means a backend answered with something that could
	// not be decoded.
	ErrInvalidResultFormat = errors.New("invalid result format")

	// ErrInsufficientContent means the transcript is not worth summarising.
	// It is never retried automatically.
	ErrInsufficientContent = errors.New("insufficient content")

	// ErrEngineUnavailable is the category of every [EngineUnavailableError].
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrProcessingTimeout means a whole operation exceeded its deadline.
	ErrProcessingTimeout = errors.New("processing timeout")

	// ErrCleanupFailed means transient chunk files could not be removed.
	ErrCleanupFailed = errors.New("cleanup failed")

	// ErrConflictingOperation means an operation of the same kind is already
	// in flight for the recording.
	ErrConflictingOperation = errors.New("conflicting operation in flight")
)

// ReassemblyError reports why a set of transcript chunks could not be merged.
type ReassemblyError struct {
	// Reason is a human-readable explanation.
	Reason string

	// Missing lists the sequence numbers absent from the input, if any.
	Missing []int
}

func (e *ReassemblyError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("reassembly failed: %s (missing sequence %v)", e.Reason, e.Missing)
	}
	return "reassembly failed: " + e.Reason
}

// Is reports category membership for [errors.Is].
func (e *ReassemblyError) Is(target error) bool { return target == ErrReassemblyFailed }

// JobFailedError is a terminal failure reported by a transcription backend.
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// Is reports category membership for [errors.Is].
func (e *JobFailedError) Is(target error) bool { return target == ErrJobFailed }

// EngineUnavailableError names the summarisation engine that could not serve
// a request.
type EngineUnavailableError struct {
	Name string
}

func (e *EngineUnavailableError) Error() string {
	return fmt.Sprintf("engine %q unavailable", e.Name)
}

// Is reports category membership for [errors.Is].
func (e *EngineUnavailableError) Is(target error) bool { return target == ErrEngineUnavailable }

// IsTransient reports whether err is worth retrying without changing the
// input. Content problems and reassembly failures are never transient.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInsufficientContent),
		errors.Is(err, ErrReassemblyFailed),
		errors.Is(err, ErrConfigurationMissing),
		errors.Is(err, ErrConflictingOperation):
		return false
	case errors.Is(err, ErrJobPollFailed),
		errors.Is(err, ErrProcessingTimeout),
		errors.Is(err, ErrEngineUnavailable),
		errors.Is(err, ErrJobTimedOut):
		return true
	}
	return false
}
