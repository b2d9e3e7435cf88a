// Package summarize turns validated transcripts into persisted summaries.
//
// The [Orchestrator] runs the selected engine and never lets an engine
// failure become a pipeline failure: when the engine errors, times out or is
// unavailable, the offline rule-based engine produces the summary instead and
// the outcome is reported as degraded together with the recovery actions the
// caller may offer. Failures are retained for diagnostics and exposed
// through [Orchestrator.HealthReport].
//
// At most one summarisation runs per recording at a time; a second request
// for the same recording fails with [pipeerr.ErrConflictingOperation].
// A cancelled context never persists a result.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"


	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/events"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/internal/quality"
	"github.com/MrWong99/murmur/internal/store"
)

// Engine names recorded on summaries that no engine produced.
const (
	VerbatimEngine = "verbatim"
	ManualEngine   = "manual"
)

// Status is the user-visible result of one summarisation.
type Status int

const (
	StatusSuccess Status = iota

	// StatusDegraded means a summary was delivered but the offline fallback
	// produced it or its quality is below acceptable.
	StatusDegraded

	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusDegraded:
		return "degraded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome describes a delivered summary.
type Outcome struct {
	RecordingID string
	Status      Status
	Summary     *engine.Summary
	Fitness     quality.Fitness
	Quality     quality.Assessment

	// Fallback is true when the offline engine replaced the selected one.
	Fallback bool

	// Failure is the diagnostic of the engine run that triggered the
	// fallback. Nil when the selected engine was skipped as unavailable.
	Failure *Failure

	// Reason explains a degraded outcome.
	Reason string

	// Actions lists the recovery actions worth offering for a degraded
	// outcome.
	Actions []RecoveryAction
}

// Orchestrator runs summarisation for recordings. All exported methods are
// safe for concurrent use.
type Orchestrator struct {
	registry    *engine.Registry
	validator   *quality.Validator
	summaries   *SummaryStore
	bus         events.Publisher
	metrics     *observe.Metrics
	timeout     time.Duration
	retryDelay  time.Duration
	wordBudget  int
	wordOverlap int
	sleep       func(ctx context.Context, d time.Duration) error

	// renameMu orders renames against saves so a summary finishing during
	// a rename lands under the new id.
	renameMu sync.Mutex

	mu       sync.Mutex
	inFlight map[string]*flight
	failures *failureRing
	counts   struct {
		successes, degraded, failed, fallbacks int
	}
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithValidator replaces the default quality validator.
func WithValidator(v *quality.Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithSummaryStore sets where summaries are persisted. Default: an in-memory
// store.
func WithSummaryStore(s *SummaryStore) Option {
	return func(o *Orchestrator) { o.summaries = s }
}

// WithPublisher publishes [events.SummaryUpdated] after every save.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.bus = p }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEngineTimeout bounds a single engine run. Default: 5m.
func WithEngineTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetryDelay sets the wait of [ActionWaitAndRetry]. Default: 30s.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.retryDelay = d
		}
	}
}

// WithWordBudget sets the piece size and overlap, in words, used by
// [ActionShorten]. Default: 3000 and 50.
func WithWordBudget(maxWords, overlap int) Option {
	return func(o *Orchestrator) {
		if maxWords > 0 && overlap >= 0 {
			o.wordBudget, o.wordOverlap = maxWords, overlap
		}
	}
}

// WithFailureHistory sets how many engine failures are retained.
// Default: [DefaultFailureHistory].
func WithFailureHistory(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.failures = newFailureRing(n)
		}
	}
}

// WithSleep replaces the context-aware sleep used by [ActionWaitAndRetry].
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// New returns an Orchestrator selecting engines from registry.
func New(registry *engine.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		timeout:     5 * time.Minute,
		retryDelay:  30 * time.Second,
		wordBudget:  3000,
		wordOverlap: 50,
		sleep:       sleepCtx,
		inFlight:    make(map[string]*flight),
		failures:    newFailureRing(DefaultFailureHistory),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.validator == nil {
		o.validator = quality.New(quality.DefaultConfig())
	}
	if o.summaries == nil {
		o.summaries = NewSummaryStore(store.NewMemory())
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Summaries returns the store the orchestrator persists into.
func (o *Orchestrator) Summaries() *SummaryStore { return o.summaries }

// Registry returns the engine registry.
func (o *Orchestrator) Registry() *engine.Registry { return o.registry }

// InFlight reports whether a summarisation for recordingID is running.
func (o *Orchestrator) InFlight(recordingID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight[recordingID] != nil
}

// ProcessComplete validates text, summarises it with the current engine and
// persists the result under recordingID, replacing any earlier summary.
//
// Unfit transcripts fail with [pipeerr.ErrInsufficientContent] before any
// engine runs. Transcripts short enough to be shown as they are are stored
// verbatim. When the current engine is unavailable or fails, the offline
// engine summarises instead and the outcome is [StatusDegraded].
func (o *Orchestrator) ProcessComplete(ctx context.Context, recordingID, text string) (*Outcome, error) {
	fl, release, err := o.acquire(recordingID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span, log := observe.StartRecordingSpan(ctx, "summarize.process", recordingID)
	defer span.End()

	fit, err := o.validator.ValidateTranscript(text)
	if err != nil {
		o.count(StatusFailed)
		log.Info("summarize: transcript rejected", "reason", fit.Reason, "words", fit.Words)
		return nil, fmt.Errorf("summarize: %s: %w", recordingID, err)
	}
	if fit.Verbatim {
		return o.finish(ctx, fl, verbatimSummary(text, fit.Words), fit, nil)
	}

	cur := o.registry.Current()
	if cur.Kind() != engine.KindLocal && !o.registry.CurrentAvailable() {
		cause := &pipeerr.EngineUnavailableError{Name: cur.Name()}
		log.Warn("summarize: current engine unavailable, using offline engine", "engine", cur.Name())
		return o.fallback(ctx, fl, text, fit, nil, cause)
	}

	sum, elapsed, err := o.run(ctx, cur, text)
	if err == nil {
		return o.finish(ctx, fl, sum, fit, nil)
	}
	if ctx.Err() != nil {
		o.count(StatusFailed)
		return nil, fmt.Errorf("summarize: %s: %w", recordingID, contextErr(ctx))
	}
	f := o.recordFailure(recordingID, cur.Name(), elapsed, text, err)
	log.Warn("summarize: engine failed, using offline engine", "engine", cur.Name(), "elapsed", elapsed, "err", err)
	if cur.Kind() == engine.KindLocal {
		o.count(StatusFailed)
		return nil, fmt.Errorf("summarize: %s: offline engine: %w", recordingID, err)
	}
	return o.fallback(ctx, fl, text, fit, &f, err)
}

// NeedsRegeneration reports whether the summary of recordingID was produced
// by an engine other than the current one. Verbatim and manual summaries
// never need regeneration.
func (o *Orchestrator) NeedsRegeneration(ctx context.Context, recordingID string) (bool, error) {
	rec, err := o.summaries.Get(ctx, recordingID)
	if err != nil {
		return false, err
	}
	switch rec.Summary.Engine {
	case VerbatimEngine, ManualEngine:
		return false, nil
	}
	return o.registry.ChangedSince(rec.Summary.Engine), nil
}

// Rename moves the summary of oldID to newID. A summarisation in flight for
// oldID follows the rename: its guard moves to newID and its result is saved
// under newID. Renaming onto a recording that is being summarised fails with
// [pipeerr.ErrConflictingOperation].
func (o *Orchestrator) Rename(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	o.renameMu.Lock()
	defer o.renameMu.Unlock()

	o.mu.Lock()
	if o.inFlight[newID] != nil {
		o.mu.Unlock()
		return fmt.Errorf("summarize: rename to %q: %w", newID, pipeerr.ErrConflictingOperation)
	}
	if fl := o.inFlight[oldID]; fl != nil {
		delete(o.inFlight, oldID)
		fl.id = newID
		o.inFlight[newID] = fl
	}
	o.mu.Unlock()
	return o.summaries.Rename(ctx, oldID, newID)
}

// flight is one running summarisation. id follows renames and is guarded by
// Orchestrator.mu.
type flight struct {
	id string
}

func (o *Orchestrator) acquire(recordingID string) (*flight, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[recordingID] != nil {
		return nil, nil, fmt.Errorf("summarize: recording %q: %w", recordingID, pipeerr.ErrConflictingOperation)
	}
	fl := &flight{id: recordingID}
	o.inFlight[recordingID] = fl
	return fl, func() {
		o.mu.Lock()
		if o.inFlight[fl.id] == fl {
			delete(o.inFlight, fl.id)
		}
		o.mu.Unlock()
	}, nil
}

// idOf returns the recording id fl currently belongs to.
func (o *Orchestrator) idOf(fl *flight) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fl.id
}

// run executes e under the engine timeout.
func (o *Orchestrator) run(ctx context.Context, e engine.Engine, text string) (*engine.Summary, time.Duration, error) {
	return o.timed(ctx, e, func(ctx context.Context) (*engine.Summary, error) {
		return e.ProcessComplete(ctx, text)
	})
}

func (o *Orchestrator) timed(ctx context.Context, e engine.Engine, fn func(context.Context) (*engine.Summary, error)) (*engine.Summary, time.Duration, error) {
	started := time.Now()
	rctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	sum, err := fn(rctx)
	elapsed := time.Since(started)
	if err == nil && sum == nil {
		err = fmt.Errorf("engine %s returned no summary: %w", e.Name(), pipeerr.ErrInvalidResultFormat)
	}
	status := "ok"
	if err != nil {
		status = "error"
		if ctx.Err() == nil && rctx.Err() != nil && !errors.Is(err, pipeerr.ErrProcessingTimeout) {
			err = fmt.Errorf("%w: engine %s after %s: %w", pipeerr.ErrProcessingTimeout, e.Name(), o.timeout, err)
		}
	}
	o.metrics.RecordEngineRequest(ctx, e.Name(), status, elapsed.Seconds())
	return sum, elapsed, err
}

func (o *Orchestrator) fallback(ctx context.Context, fl *flight, text string, fit quality.Fitness, f *Failure, cause error) (*Outcome, error) {
	recordingID := o.idOf(fl)
	from := o.registry.CurrentName()
	o.metrics.RecordFallback(ctx, from)

	offline := o.registry.Offline()
	sum, _, err := o.run(ctx, offline, text)
	if err != nil {
		o.count(StatusFailed)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("summarize: %s: %w", recordingID, contextErr(ctx))
		}
		return nil, fmt.Errorf("summarize: %s: offline fallback: %w", recordingID, errors.Join(cause, err))
	}

	o.mu.Lock()
	o.counts.fallbacks++
	o.mu.Unlock()

	out, err := o.finish(ctx, fl, sum, fit, cause)
	if err != nil {
		return nil, err
	}
	out.Failure = f
	return out, nil
}

// finish scores sum, persists it under the current id of fl and publishes
// the update. A non-nil cause marks the summary as produced by the fallback
// path.
func (o *Orchestrator) finish(ctx context.Context, fl *flight, sum *engine.Summary, fit quality.Fitness, cause error) (*Outcome, error) {
	recordingID := o.idOf(fl)
	if err := ctx.Err(); err != nil {
		o.count(StatusFailed)
		return nil, fmt.Errorf("summarize: %s: %w", recordingID, contextErr(ctx))
	}

	out := &Outcome{
		RecordingID: recordingID,
		Status:      StatusSuccess,
		Summary:     sum,
		Fitness:     fit,
		Fallback:    cause != nil,
		Quality: o.validator.ScoreSummary(quality.SummaryInput{
			Text:          sum.Text,
			Tasks:         len(sum.Tasks),
			Reminders:     len(sum.Reminders),
			Confidence:    sum.Confidence,
			OriginalWords: sum.OriginalWords,
		}),
	}
	o.metrics.RecordQualityTier(ctx, out.Quality.Tier.String())

	passthrough := sum.Engine == VerbatimEngine || sum.Engine == ManualEngine
	switch {
	case cause != nil:
		out.Status = StatusDegraded
		out.Reason = fmt.Sprintf("offline summary used: %v", cause)
		out.Actions = SuggestedActions(cause)
	case !passthrough && out.Quality.Tier.BelowAcceptable():
		out.Status = StatusDegraded
		out.Reason = fmt.Sprintf("summary quality %s: %s", out.Quality.Tier, strings.Join(out.Quality.Issues, "; "))
		out.Actions = qualityActions()
	}
	if !passthrough && out.Quality.Tier == quality.Unacceptable {
		slog.Warn("summarize: summary quality failure",
			"recording", recordingID, "engine", sum.Engine, "score", out.Quality.Score, "issues", out.Quality.Issues)
	}

	rec := Record{
		Summary:  *sum,
		Tier:     out.Quality.Tier.String(),
		Score:    out.Quality.Score,
		Degraded: out.Status == StatusDegraded,
		Fallback: out.Fallback,
		SavedAt:  time.Now().UTC(),
	}
	o.renameMu.Lock()
	rec.RecordingID = o.idOf(fl)
	err := o.summaries.Save(ctx, rec)
	o.renameMu.Unlock()
	if err != nil {
		o.count(StatusFailed)
		return nil, err
	}
	out.RecordingID = rec.RecordingID
	if o.bus != nil {
		o.bus.Publish(events.SummaryUpdated{
			RecordingID: rec.RecordingID,
			Engine:      sum.Engine,
			Degraded:    rec.Degraded,
			At:          rec.SavedAt,
		})
	}
	o.count(out.Status)
	return out, nil
}

func (o *Orchestrator) recordFailure(recordingID, engineName string, elapsed time.Duration, text string, err error) Failure {
	f := Failure{
		RecordingID: recordingID,
		Engine:      engineName,
		Elapsed:     elapsed,
		InputWords:  len(quality.Words(text)),
		Err:         err,
		At:          time.Now().UTC(),
	}
	o.mu.Lock()
	o.failures.add(f)
	o.mu.Unlock()
	return f
}

func (o *Orchestrator) count(s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch s {
	case StatusSuccess:
		o.counts.successes++
	case StatusDegraded:
		o.counts.degraded++
	case StatusFailed:
		o.counts.failed++
	}
}

func verbatimSummary(text string, words int) *engine.Summary {
	text = strings.TrimSpace(text)
	title := strings.Fields(text)
	if len(title) > 6 {
		title = title[:6]
	}
	return &engine.Summary{
		Text:          text,
		Tasks:         []engine.Task{},
		Reminders:     []engine.Reminder{},
		Titles:        []string{strings.TrimRight(strings.Join(title, " "), ".,!?")},
		ContentType:   engine.ContentShort,
		Engine:        VerbatimEngine,
		Confidence:    1,
		OriginalWords: words,
		GeneratedAt:   time.Now().UTC(),
	}
}

func contextErr(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", pipeerr.ErrProcessingTimeout, err)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
