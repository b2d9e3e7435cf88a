package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/murmur/internal/events"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

const (
	// DefaultInterval is the pause between two polls.
	DefaultInterval = 5 * time.Second

	// DefaultCeiling bounds the total wait for one job.
	DefaultCeiling = 30 * time.Minute

	// DefaultMaxResumes is how often a journaled job is resumed before it is
	// given up.
	DefaultMaxResumes = 3
)

// Outcome is the result of a job that reached Completed.
type Outcome struct {
	Status Status
	Result *stt.Result
}

// Tracker drives jobs against one backend. A single Tracker may run many
// jobs concurrently.
type Tracker struct {
	name     string
	backend  stt.JobBackend
	interval time.Duration
	ceiling  time.Duration
	resumes  int
	bus      events.Publisher
	journal  *Journal
	metrics  *observe.Metrics
	now      func() time.Time

	mu   sync.Mutex
	jobs map[string]*Status
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithName labels the backend in job records and logs.
func WithName(name string) Option {
	return func(t *Tracker) { t.name = name }
}

// WithInterval sets the poll interval. Default: [DefaultInterval].
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithCeiling sets the maximum total wait per job. Default: [DefaultCeiling].
func WithCeiling(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.ceiling = d
		}
	}
}

// WithMaxResumes sets how often [Tracker.Resume] picks up the same job before
// failing it. Default: [DefaultMaxResumes].
func WithMaxResumes(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.resumes = n
		}
	}
}

// WithPublisher publishes every transition as [events.JobStatusChanged].
func WithPublisher(p events.Publisher) Option {
	return func(t *Tracker) { t.bus = p }
}

// WithJournal persists every transition.
func WithJournal(j *Journal) Option {
	return func(t *Tracker) { t.journal = j }
}

// WithMetrics records polls and outcomes on m instead of the default
// instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock replaces time.Now for ceiling accounting.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New returns a tracker for backend. backend may be nil when only
// [Tracker.RunSync] is used.
func New(backend stt.JobBackend, opts ...Option) *Tracker {
	t := &Tracker{
		name:     "default",
		backend:  backend,
		interval: DefaultInterval,
		ceiling:  DefaultCeiling,
		resumes:  DefaultMaxResumes,
		now:      time.Now,
		jobs:     make(map[string]*Status),
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Run submits audioRef and waits for the job to finish.
//
// Transient poll errors are retried until the ceiling. When the ceiling
// elapses the job ends TimedOut and the remote job is left running; the
// returned error wraps [pipeerr.ErrJobTimedOut]. Cancelling ctx ends the job
// Cancelled.
func (t *Tracker) Run(ctx context.Context, recordingID, audioRef string) (*Outcome, error) {
	if t.backend == nil {
		return nil, fmt.Errorf("job: %w: no asynchronous backend", pipeerr.ErrConfigurationMissing)
	}
	jobID, err := t.backend.Submit(ctx, audioRef)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("job: submit: %w", contextErr(ctx))
		}
		return nil, fmt.Errorf("job: %w: %w", pipeerr.ErrJobSubmitFailed, err)
	}

	job := t.track(ctx, Status{JobID: jobID, RecordingID: recordingID, AudioRef: audioRef, State: Submitted})
	if err := t.transition(ctx, job, Polling, "", ""); err != nil {
		return nil, err
	}
	return t.poll(ctx, job)
}

// Resume waits for a previously submitted job without resubmitting it. The
// ceiling starts again from now. st usually comes from [Journal.Pending].
//
// A job that cannot be resumed ends Failed, which removes it from the
// journal: there is no asynchronous backend, the job ran on a synchronous
// one, or it was already resumed the maximum number of times.
func (t *Tracker) Resume(ctx context.Context, st Status) (*Outcome, error) {
	prev := st.State
	st.State = Polling
	st.Resumes++
	job := t.track(ctx, st)
	slog.Info("job: resuming", "job", st.JobID, "recording", st.RecordingID, "previous_state", prev, "resume", st.Resumes)
	t.emit(ctx, t.snapshot(job), prev.String())

	switch {
	case t.backend == nil || st.Sync:
		_ = t.transition(ctx, job, Failed, "no asynchronous backend", "")
		return nil, fmt.Errorf("job: %s: %w: no asynchronous backend", st.JobID, pipeerr.ErrConfigurationMissing)
	case st.Resumes > t.resumes:
		reason := fmt.Sprintf("given up after %d resumes", t.resumes)
		_ = t.transition(ctx, job, Failed, reason, "")
		return nil, fmt.Errorf("job: %w", &pipeerr.JobFailedError{JobID: st.JobID, Reason: reason})
	}
	return t.poll(ctx, job)
}

// RunSync transcribes audioRef with a synchronous backend. The job goes
// straight from Submitted to Completed or Failed. Synchronous jobs are
// published but never journaled: nothing remote survives a restart.
func (t *Tracker) RunSync(ctx context.Context, tr stt.Transcriber, recordingID, audioRef string) (*Outcome, error) {
	job := t.track(ctx, Status{JobID: "local-" + uuid.NewString(), RecordingID: recordingID, AudioRef: audioRef, State: Submitted, Sync: true})

	res, err := tr.Transcribe(ctx, audioRef)
	switch {
	case ctx.Err() != nil:
		_ = t.transition(context.WithoutCancel(ctx), job, Cancelled, ctx.Err().Error(), "")
		return nil, fmt.Errorf("job: %s: %w", job.JobID, contextErr(ctx))
	case err != nil:
		_ = t.transition(ctx, job, Failed, err.Error(), "")
		return nil, fmt.Errorf("job: %w: %w", &pipeerr.JobFailedError{JobID: job.JobID, Reason: err.Error()}, err)
	case res == nil:
		_ = t.transition(ctx, job, Failed, "empty result", "")
		return nil, fmt.Errorf("job: %s: %w", job.JobID, pipeerr.ErrInvalidResultFormat)
	}
	if err := t.transition(ctx, job, Completed, "", audioRef); err != nil {
		return nil, err
	}
	return &Outcome{Status: t.snapshot(job), Result: res}, nil
}

// poll runs the wait loop for a job already in Polling.
func (t *Tracker) poll(ctx context.Context, job *Status) (*Outcome, error) {
	deadline := t.now().Add(t.ceiling)
	timer := time.NewTimer(t.nextWait(deadline))
	defer timer.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			_ = t.transition(context.WithoutCancel(ctx), job, Cancelled, ctx.Err().Error(), "")
			return nil, fmt.Errorf("job: %s: %w", job.JobID, contextErr(ctx))
		case <-timer.C:
		}

		st, err := t.backend.Poll(ctx, job.JobID)
		switch {
		case err != nil && errors.Is(err, stt.ErrJobNotFound):
			t.metrics.RecordJobPoll(ctx, "not_found")
			_ = t.transition(ctx, job, Failed, "job not found", "")
			return nil, fmt.Errorf("job: %s: %w", job.JobID, pipeerr.ErrJobNotFound)

		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			t.metrics.RecordJobPoll(ctx, "error")
			lastErr = err
			slog.Warn("job: poll failed, will retry", "job", job.JobID, "backend", t.name, "err", err)

		case st.State == stt.JobDone:
			t.metrics.RecordJobPoll(ctx, "done")
			if err := t.transition(ctx, job, Completed, "", st.Locator); err != nil {
				return nil, err
			}
			return t.fetch(ctx, job, st.Locator)

		case st.State == stt.JobFailed:
			t.metrics.RecordJobPoll(ctx, "failed")
			_ = t.transition(ctx, job, Failed, st.Reason, "")
			return nil, fmt.Errorf("job: %w", &pipeerr.JobFailedError{JobID: job.JobID, Reason: st.Reason})

		default:
			t.metrics.RecordJobPoll(ctx, "running")
		}

		if !t.now().Before(deadline) {
			_ = t.transition(ctx, job, TimedOut, fmt.Sprintf("no result after %s", t.ceiling), "")
			if lastErr != nil {
				return nil, fmt.Errorf("job: %s: %w (last poll: %w: %w)", job.JobID, pipeerr.ErrJobTimedOut, pipeerr.ErrJobPollFailed, lastErr)
			}
			return nil, fmt.Errorf("job: %s: %w", job.JobID, pipeerr.ErrJobTimedOut)
		}
		timer.Reset(t.nextWait(deadline))
	}
}

func (t *Tracker) fetch(ctx context.Context, job *Status, locator string) (*Outcome, error) {
	res, err := t.backend.Fetch(ctx, locator)
	if errors.Is(err, stt.ErrJobNotFound) {
		return nil, fmt.Errorf("job: fetch %s: %w", job.JobID, pipeerr.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("job: fetch %s: %w", job.JobID, err)
	}
	if res == nil {
		return nil, fmt.Errorf("job: fetch %s: %w", job.JobID, pipeerr.ErrInvalidResultFormat)
	}
	return &Outcome{Status: t.snapshot(job), Result: res}, nil
}

// nextWait returns the poll interval, shortened so the last poll happens at
// the deadline rather than after it.
func (t *Tracker) nextWait(deadline time.Time) time.Duration {
	return max(min(t.interval, deadline.Sub(t.now())), 0)
}

func (t *Tracker) track(ctx context.Context, st Status) *Status {
	now := t.now()
	if st.SubmittedAt.IsZero() {
		st.SubmittedAt = now
	}
	st.UpdatedAt = now
	st.Backend = t.name

	job := &st
	t.mu.Lock()
	t.jobs[st.JobID] = job
	t.mu.Unlock()

	t.metrics.ActiveJobs.Add(ctx, 1)
	if st.State == Submitted {
		t.emit(ctx, st, "")
	}
	return job
}

// transition moves job to the given state, then publishes and journals the
// change outside the lock.
func (t *Tracker) transition(ctx context.Context, job *Status, to State, reason, locator string) error {
	t.mu.Lock()
	from := job.State
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("job: %s: invalid transition %s -> %s", job.JobID, from, to)
	}
	job.State = to
	job.Reason = reason
	if locator != "" {
		job.Locator = locator
	}
	job.UpdatedAt = t.now()
	snap := *job
	if to.IsTerminal() {
		delete(t.jobs, job.JobID)
	}
	t.mu.Unlock()

	if to.IsTerminal() {
		t.metrics.ActiveJobs.Add(ctx, -1)
		t.metrics.RecordJobOutcome(ctx, to.String())
	}
	slog.Debug("job: transition", "job", snap.JobID, "recording", snap.RecordingID, "from", from, "to", to)
	t.emit(ctx, snap, from.String())
	return nil
}

// emit publishes and journals st. from is empty for a newly tracked job.
func (t *Tracker) emit(ctx context.Context, st Status, from string) {
	if t.bus != nil {
		t.bus.Publish(events.JobStatusChanged{
			JobID:       st.JobID,
			RecordingID: st.RecordingID,
			From:        from,
			To:          st.State.String(),
			Reason:      st.Reason,
			Locator:     st.Locator,
			At:          st.UpdatedAt,
		})
	}
	if t.journal != nil {
		if err := t.journal.Record(ctx, st); err != nil {
			slog.Warn("job: journal write failed", "job", st.JobID, "err", err)
		}
	}
}

func (t *Tracker) snapshot(job *Status) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *job
}

// Get returns the status of an in-flight job.
func (t *Tracker) Get(jobID string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[jobID]
	if !ok {
		return Status{}, false
	}
	return *j, true
}

// Active returns the in-flight jobs ordered by job id.
func (t *Tracker) Active() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Status, 0, len(t.jobs))
	for _, id := range slices.Sorted(maps.Keys(t.jobs)) {
		out = append(out, *t.jobs[id])
	}
	return out
}

// Retarget moves every in-flight and journaled job of recording oldID to
// newID without touching its state. It returns the number of in-flight jobs
// moved.
func (t *Tracker) Retarget(ctx context.Context, oldID, newID string) int {
	n := 0
	t.mu.Lock()
	for _, j := range t.jobs {
		if j.RecordingID == oldID {
			j.RecordingID = newID
			n++
		}
	}
	t.mu.Unlock()

	if t.journal != nil {
		if err := t.journal.Retarget(ctx, oldID, newID); err != nil {
			slog.Warn("job: journal retarget failed", "from", oldID, "to", newID, "err", err)
		}
	}
	if n > 0 {
		slog.Info("job: retargeted jobs", "from", oldID, "to", newID, "count", n)
	}
	return n
}

// Listen retargets jobs on every [events.RecordingRenamed] until ctx is done
// or the bus closes.
func (t *Tracker) Listen(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(events.NameRecordingRenamed)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if r, ok := e.(events.RecordingRenamed); ok {
				t.Retarget(ctx, r.OldID, r.NewID)
			}
		}
	}
}

// contextErr maps a done context to the pipeline taxonomy: deadlines become
// [pipeerr.ErrProcessingTimeout], cancellation stays context.Canceled.
func contextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", pipeerr.ErrProcessingTimeout, ctx.Err())
	}
	return ctx.Err()
}
