// Package pipeline runs a recording end to end: chunk the audio, transcribe
// every chunk, reassemble the transcript and summarise it.
//
// One [Pipeline.Process] call owns a recording until it returns. Starting a
// second one for the same recording fails with
// [pipeerr.ErrConflictingOperation]; [Pipeline.Cancel] stops a running one.
// Transient chunk files are removed on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/chunk"
	"github.com/MrWong99/murmur/internal/events"
	"github.com/MrWong99/murmur/internal/job"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/internal/summarize"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// ErrCancelled is the cause recorded when [Pipeline.Cancel] stops a run.
var ErrCancelled = errors.New("pipeline: cancelled by user")

// Report describes one pipeline run. It is returned on failure too.
type Report struct {
	RecordingID string
	Status      summarize.Status

	// Reason explains a failed or degraded run.
	Reason string

	// Actions lists the recovery actions worth offering.
	Actions []summarize.RecoveryAction

	Chunks     int
	Split      bool
	Transcript *transcript.Result
	Summary    *summarize.Outcome

	// CleanupErr is set when transient chunk files could not be removed. It
	// does not fail the run.
	CleanupErr error

	Elapsed time.Duration
}

type run struct {
	id     string
	cancel context.CancelCauseFunc
}

// Pipeline processes recordings. It is safe for concurrent use.
type Pipeline struct {
	chunker      *chunk.Chunker
	tracker      *job.Tracker
	transcriber  stt.Transcriber
	reassembler  *transcript.Reassembler
	orchestrator *summarize.Orchestrator
	bus          events.Publisher
	metrics      *observe.Metrics
	timeout      time.Duration
	concurrency  int

	mu      sync.Mutex
	running map[string]*run
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithTranscriber transcribes chunks synchronously with tr. Without it,
// chunks go through the tracker's asynchronous backend.
func WithTranscriber(tr stt.Transcriber) Option {
	return func(p *Pipeline) { p.transcriber = tr }
}

// WithReassembler replaces the default reassembler.
func WithReassembler(r *transcript.Reassembler) Option {
	return func(p *Pipeline) { p.reassembler = r }
}

// WithPublisher publishes [events.RecordingRenamed] on renames.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) { p.bus = pub }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTimeout bounds a whole run. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithConcurrency sets how many chunks are transcribed at once. Default: 1.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// New assembles a pipeline. tracker is required in both transcription modes;
// it records every chunk's job.
func New(chunker *chunk.Chunker, tracker *job.Tracker, orchestrator *summarize.Orchestrator, opts ...Option) (*Pipeline, error) {
	if chunker == nil || tracker == nil || orchestrator == nil {
		return nil, fmt.Errorf("pipeline: %w: chunker, tracker and orchestrator are required", pipeerr.ErrConfigurationMissing)
	}
	p := &Pipeline{
		chunker:      chunker,
		tracker:      tracker,
		orchestrator: orchestrator,
		concurrency:  1,
		running:      make(map[string]*run),
	}
	for _, o := range opts {
		o(p)
	}
	if p.reassembler == nil {
		p.reassembler = transcript.NewReassembler()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Orchestrator returns the summarisation orchestrator.
func (p *Pipeline) Orchestrator() *summarize.Orchestrator { return p.orchestrator }

// Running returns the ids of the recordings being processed.
func (p *Pipeline) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.running))
	for id := range p.running {
		out = append(out, id)
	}
	return out
}

// Process runs the recording at ref through every stage. The returned
// report is never nil; err is non-nil exactly when the report's status is
// [summarize.StatusFailed].
func (p *Pipeline) Process(ctx context.Context, recordingID, ref string) (*Report, error) {
	started := time.Now()
	rep := &Report{RecordingID: recordingID}

	ctx, r, err := p.acquire(ctx, recordingID)
	if err != nil {
		return p.fail(rep, started, err)
	}
	defer p.release(r)
	defer r.cancel(nil)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ctx, span, log := observe.StartRecordingSpan(ctx, "pipeline.process", recordingID, attribute.String("ref", ref))
	defer span.End()

	p.metrics.ActiveRecordings.Add(ctx, 1)
	defer p.metrics.ActiveRecordings.Add(context.WithoutCancel(ctx), -1)
	defer func() {
		p.metrics.PipelineDuration.Record(context.WithoutCancel(ctx), time.Since(started).Seconds(),
			metricStatus(rep.Status))
	}()

	chunks, err := p.chunker.Chunk(ctx, ref)
	if err != nil {
		return p.fail(rep, started, p.cause(ctx, err))
	}
	defer func() {
		if cerr := chunks.Cleanup(); cerr != nil {
			log.Warn("pipeline: chunk cleanup failed", "err", cerr)
			rep.CleanupErr = cerr
		}
	}()
	rep.Chunks = len(chunks.Chunks)
	rep.Split = chunks.Split()

	parts, err := p.transcribe(ctx, recordingID, chunks.Chunks)
	if err != nil {
		return p.fail(rep, started, p.cause(ctx, err))
	}

	reStart := time.Now()
	merged, err := p.reassembler.Reassemble(parts)
	p.metrics.ReassemblyDuration.Record(ctx, time.Since(reStart).Seconds())
	if err != nil {
		return p.fail(rep, started, fmt.Errorf("pipeline: %s: %w", recordingID, err))
	}
	rep.Transcript = merged
	log.Info("pipeline: transcript ready", "chunks", rep.Chunks, "segments", merged.SegmentCount(), "dropped_overlap", merged.Dropped)

	// The recording may have been renamed while it was transcribed.
	id := p.currentID(r)
	rep.RecordingID = id
	out, err := p.orchestrator.ProcessComplete(ctx, id, merged.Text())
	if err != nil {
		return p.fail(rep, started, p.cause(ctx, err))
	}
	// A rename that raced the start of summarisation moved nothing yet.
	if cur := p.currentID(r); cur != out.RecordingID {
		if err := p.orchestrator.Rename(context.WithoutCancel(ctx), out.RecordingID, cur); err != nil {
			log.Warn("pipeline: move summary to renamed recording", "to", cur, "err", err)
		} else {
			out.RecordingID = cur
		}
	}
	rep.RecordingID = out.RecordingID
	rep.Summary = out
	rep.Status = out.Status
	rep.Reason = out.Reason
	rep.Actions = out.Actions
	rep.Elapsed = time.Since(started)
	log.Info("pipeline: done", "status", rep.Status, "engine", out.Summary.Engine, "elapsed", rep.Elapsed)
	return rep, nil
}

// transcribe runs every chunk through the tracker, at most p.concurrency at a
// time, and returns the chunk transcripts indexed by sequence.
func (p *Pipeline) transcribe(ctx context.Context, recordingID string, chunks []chunk.AudioChunk) ([]transcript.Chunk, error) {
	parts := make([]transcript.Chunk, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			started := time.Now()
			var (
				out *job.Outcome
				err error
			)
			if p.transcriber != nil {
				out, err = p.tracker.RunSync(gctx, p.transcriber, recordingID, c.ChunkRef)
			} else {
				out, err = p.tracker.Run(gctx, recordingID, c.ChunkRef)
			}
			p.metrics.TranscriptionDuration.Record(gctx, time.Since(started).Seconds(), p.backendAttr())
			if err != nil {
				return fmt.Errorf("pipeline: transcribe chunk %d: %w", c.Sequence, err)
			}
			parts[i] = toChunk(c, out.Result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return parts, nil
}

func toChunk(c chunk.AudioChunk, res *stt.Result) transcript.Chunk {
	tc := transcript.Chunk{
		ID:       c.ID,
		Sequence: c.Sequence,
		Start:    c.Start,
		End:      c.End,
	}
	if res == nil {
		return tc
	}
	tc.RawText = res.Text
	for _, s := range res.Segments {
		tc.Segments = append(tc.Segments, transcript.Segment{
			Speaker: s.Speaker,
			Text:    s.Text,
			Start:   s.Start,
			End:     s.End,
		})
	}
	return tc
}

// Cancel stops the run of recordingID. It reports whether one was running.
func (p *Pipeline) Cancel(recordingID string) bool {
	p.mu.Lock()
	r, ok := p.running[recordingID]
	p.mu.Unlock()
	if ok {
		r.cancel(ErrCancelled)
	}
	return ok
}

// Rename moves everything known about oldID to newID: a running pipeline,
// the stored summary and, through [events.RecordingRenamed], in-flight
// transcription jobs.
func (p *Pipeline) Rename(ctx context.Context, oldID, newID string) error {
	if newID == "" || oldID == newID {
		return fmt.Errorf("pipeline: invalid rename %q -> %q", oldID, newID)
	}
	p.mu.Lock()
	if _, taken := p.running[newID]; taken {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: rename to %q: %w", newID, pipeerr.ErrConflictingOperation)
	}
	r, moved := p.running[oldID]
	if moved {
		delete(p.running, oldID)
		r.id = newID
		p.running[newID] = r
	}
	p.mu.Unlock()

	if err := p.orchestrator.Rename(ctx, oldID, newID); err != nil {
		if moved {
			p.mu.Lock()
			if p.running[newID] == r {
				delete(p.running, newID)
				r.id = oldID
				p.running[oldID] = r
			}
			p.mu.Unlock()
		}
		return fmt.Errorf("pipeline: rename: %w", err)
	}
	if p.bus != nil {
		p.bus.Publish(events.RecordingRenamed{OldID: oldID, NewID: newID, At: time.Now().UTC()})
	}
	return nil
}

func (p *Pipeline) acquire(ctx context.Context, recordingID string) (context.Context, *run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.running[recordingID]; busy {
		return nil, nil, fmt.Errorf("pipeline: recording %q: %w", recordingID, pipeerr.ErrConflictingOperation)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	r := &run{id: recordingID, cancel: cancel}
	p.running[recordingID] = r
	return ctx, r, nil
}

func (p *Pipeline) release(r *run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[r.id] == r {
		delete(p.running, r.id)
	}
}

func (p *Pipeline) currentID(r *run) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return r.id
}

// cause replaces a bare context error with the reason the run stopped.
func (p *Pipeline) cause(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	c := context.Cause(ctx)
	switch {
	case errors.Is(c, ErrCancelled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, pipeerr.ErrProcessingTimeout):
		return fmt.Errorf("%w: %w", pipeerr.ErrProcessingTimeout, err)
	}
	return err
}

func (p *Pipeline) fail(rep *Report, started time.Time, err error) (*Report, error) {
	rep.Status = summarize.StatusFailed
	rep.Reason = err.Error()
	rep.Actions = summarize.SuggestedActions(err)
	rep.Elapsed = time.Since(started)
	return rep, err
}
