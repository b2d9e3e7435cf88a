package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/murmur/internal/chunk"
	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/internal/quality"
	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// RecoveryAction is a remediation the caller can apply after a degraded or
// failed summarisation. The set is closed; [Orchestrator.Recover] handles
// every value.
type RecoveryAction int

const (
	// ActionRetry runs the current engine again.
	ActionRetry RecoveryAction = iota

	// ActionNextEngine selects the next available engine after the one that
	// failed, in registry order, wrapping around, and runs it.
	ActionNextEngine

	// ActionShorten summarises the text in word-budgeted pieces and merges
	// the partial summaries.
	ActionShorten

	// ActionWaitAndRetry waits the configured delay, then retries.
	ActionWaitAndRetry

	// ActionCheckConnectivity refreshes availability and retries only if
	// the current engine is reachable.
	ActionCheckConnectivity

	// ActionUseOffline selects the offline engine and runs it.
	ActionUseOffline

	// ActionManualSummary stores a summary written by the user.
	ActionManualSummary
)

var actionNames = [...]string{
	ActionRetry:             "retry",
	ActionNextEngine:        "next_engine",
	ActionShorten:           "shorten",
	ActionWaitAndRetry:      "wait_and_retry",
	ActionCheckConnectivity: "check_connectivity",
	ActionUseOffline:        "use_offline",
	ActionManualSummary:     "manual_summary",
}

func (a RecoveryAction) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseRecoveryAction is the inverse of [RecoveryAction.String].
func ParseRecoveryAction(s string) (RecoveryAction, error) {
	for i, n := range actionNames {
		if n == s {
			return RecoveryAction(i), nil
		}
	}
	return 0, fmt.Errorf("summarize: unknown recovery action %q", s)
}

// RecoveryRequest asks [Orchestrator.Recover] to apply one action.
type RecoveryRequest struct {
	RecordingID string
	Text        string
	Action      RecoveryAction

	// Manual is the user's summary for [ActionManualSummary].
	Manual string

	// From names the engine whose failure is being recovered from, usually
	// Outcome.Failure.Engine. [ActionNextEngine] moves on from it, so
	// repeating a request selects the same engine. When empty, the engine of
	// the recording's most recent failure is used, then the current engine.
	From string
}

// SuggestedActions returns the actions worth offering after err, most
// promising first. Conflicts and cancellations suggest nothing.
func SuggestedActions(err error) []RecoveryAction {
	switch {
	case err == nil,
		errors.Is(err, pipeerr.ErrConflictingOperation),
		errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, pipeerr.ErrInsufficientContent):
		return []RecoveryAction{ActionManualSummary}
	case errors.Is(err, llm.ErrContextExceeded):
		return []RecoveryAction{ActionShorten, ActionNextEngine, ActionUseOffline, ActionManualSummary}
	case errors.Is(err, pipeerr.ErrEngineUnavailable):
		return []RecoveryAction{ActionCheckConnectivity, ActionNextEngine, ActionWaitAndRetry, ActionUseOffline, ActionManualSummary}
	case errors.Is(err, pipeerr.ErrProcessingTimeout), errors.Is(err, context.DeadlineExceeded):
		return []RecoveryAction{ActionWaitAndRetry, ActionShorten, ActionNextEngine, ActionUseOffline, ActionManualSummary}
	case errors.Is(err, pipeerr.ErrInvalidResultFormat):
		return []RecoveryAction{ActionRetry, ActionNextEngine, ActionUseOffline, ActionManualSummary}
	}
	return []RecoveryAction{ActionRetry, ActionWaitAndRetry, ActionNextEngine, ActionUseOffline, ActionManualSummary}
}

func qualityActions() []RecoveryAction {
	return []RecoveryAction{ActionRetry, ActionNextEngine, ActionManualSummary}
}

// Recover applies req.Action to the recording and persists the result,
// replacing the earlier summary. Recovery never falls back to the offline
// engine on its own; a failed attempt is recorded and returned. Applying the
// same action twice is safe.
func (o *Orchestrator) Recover(ctx context.Context, req RecoveryRequest) (*Outcome, error) {
	fl, release, err := o.acquire(req.RecordingID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span, log := observe.StartRecordingSpan(ctx, "summarize.recover", req.RecordingID,
		attribute.String("action", req.Action.String()))
	defer span.End()
	log = log.With("action", req.Action.String())

	var fit quality.Fitness
	if req.Action != ActionManualSummary {
		fit, err = o.validator.ValidateTranscript(req.Text)
		if err != nil {
			return nil, fmt.Errorf("summarize: %s: %w", req.RecordingID, err)
		}
	}

	var (
		e       engine.Engine
		sum     *engine.Summary
		elapsed time.Duration
	)
	switch req.Action {
	case ActionRetry:
		e = o.registry.Current()
		sum, elapsed, err = o.run(ctx, e, req.Text)

	case ActionNextEngine:
		from := req.From
		if from == "" {
			from = o.lastFailedEngine(req.RecordingID)
		}
		if from == "" {
			from = o.registry.CurrentName()
		}
		next, ok := o.registry.Next(from)
		if !ok {
			return nil, fmt.Errorf("summarize: no engine available besides %q: %w", from, &pipeerr.EngineUnavailableError{Name: from})
		}
		if err := o.registry.SetCurrent(ctx, next.Name()); err != nil {
			return nil, fmt.Errorf("summarize: switch engine: %w", err)
		}
		e = next
		sum, elapsed, err = o.run(ctx, e, req.Text)

	case ActionShorten:
		e = o.registry.Current()
		sum, elapsed, err = o.timed(ctx, e, func(ctx context.Context) (*engine.Summary, error) {
			return ShortenInput(ctx, e, req.Text, o.wordBudget, o.wordOverlap)
		})

	case ActionWaitAndRetry:
		if err := o.sleep(ctx, o.retryDelay); err != nil {
			return nil, fmt.Errorf("summarize: %s: %w", req.RecordingID, contextErr(ctx))
		}
		e = o.registry.Current()
		sum, elapsed, err = o.run(ctx, e, req.Text)

	case ActionCheckConnectivity:
		o.registry.Refresh(ctx)
		name := o.registry.CurrentName()
		if !o.registry.CurrentAvailable() {
			v := o.registry.Validate(name)
			return nil, fmt.Errorf("summarize: %w: %s", &pipeerr.EngineUnavailableError{Name: name}, v.Message)
		}
		e = o.registry.Current()
		sum, elapsed, err = o.run(ctx, e, req.Text)

	case ActionUseOffline:
		e = o.registry.Offline()
		if err := o.registry.SetCurrent(ctx, e.Name()); err != nil {
			return nil, fmt.Errorf("summarize: switch to offline engine: %w", err)
		}
		sum, elapsed, err = o.run(ctx, e, req.Text)

	case ActionManualSummary:
		if strings.TrimSpace(req.Manual) == "" {
			return nil, fmt.Errorf("summarize: %s: manual summary is empty", req.RecordingID)
		}
		words := len(quality.Words(req.Text))
		fit = quality.Fitness{Usable: true, Words: words}
		return o.finish(ctx, fl, manualSummary(req.Manual, words), fit, nil)

	default:
		return nil, fmt.Errorf("summarize: unknown recovery action %d", int(req.Action))
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("summarize: %s: %w", req.RecordingID, contextErr(ctx))
		}
		o.recordFailure(req.RecordingID, e.Name(), elapsed, req.Text, err)
		o.count(StatusFailed)
		log.Warn("summarize: recovery failed", "engine", e.Name(), "err", err)
		return nil, fmt.Errorf("summarize: %s: %s via %s: %w", req.RecordingID, req.Action, e.Name(), err)
	}
	log.Info("summarize: recovery succeeded", "engine", e.Name())
	return o.finish(ctx, fl, sum, fit, nil)
}

// lastFailedEngine returns the engine of the most recent failure recorded for
// recordingID, or "".
func (o *Orchestrator) lastFailedEngine(recordingID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := o.failures.items()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].RecordingID == recordingID {
			return items[i].Engine
		}
	}
	return ""
}

// ShortenInput summarises text with e in pieces of at most maxWords words,
// each overlapping the next by overlap words, and merges the partial
// summaries in order. Pieces run one after another.
func ShortenInput(ctx context.Context, e engine.Engine, text string, maxWords, overlap int) (*engine.Summary, error) {
	words := strings.Fields(text)
	ranges, err := chunk.PlanWords(len(words), maxWords, overlap)
	if err != nil {
		return nil, fmt.Errorf("summarize: shorten: %w", err)
	}

	started := time.Now()
	parts := make([]*engine.Summary, 0, len(ranges))
	for _, r := range ranges {
		s, err := e.ProcessComplete(ctx, strings.Join(words[r.Start:r.End], " "))
		if err != nil {
			return nil, fmt.Errorf("summarize: shorten: words %d-%d: %w", r.Start, r.End, err)
		}
		if s == nil {
			return nil, fmt.Errorf("summarize: shorten: words %d-%d: %w", r.Start, r.End, pipeerr.ErrInvalidResultFormat)
		}
		parts = append(parts, s)
	}

	merged := mergeSummaries(parts)
	merged.Engine = e.Name()
	merged.OriginalWords = len(quality.Words(text))
	merged.ProcessingTime = time.Since(started)
	merged.GeneratedAt = time.Now().UTC()
	return merged, nil
}

// mergeSummaries concatenates partial summaries. Tasks and reminders found
// twice in overlapping pieces are kept once; the content type is the most
// frequent one, earliest wins ties.
func mergeSummaries(parts []*engine.Summary) *engine.Summary {
	out := &engine.Summary{Tasks: []engine.Task{}, Reminders: []engine.Reminder{}, Titles: []string{}}
	texts := make([]string, 0, len(parts))
	seenTask := make(map[string]bool)
	seenReminder := make(map[string]bool)
	votes := make(map[engine.ContentType]int)
	var confidence float64

	for _, p := range parts {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
		for _, t := range p.Tasks {
			if k := strings.ToLower(t.Text); !seenTask[k] {
				seenTask[k] = true
				out.Tasks = append(out.Tasks, t)
			}
		}
		for _, r := range p.Reminders {
			if k := strings.ToLower(r.Text); !seenReminder[k] {
				seenReminder[k] = true
				out.Reminders = append(out.Reminders, r)
			}
		}
		if len(out.Titles) == 0 && len(p.Titles) > 0 {
			out.Titles = append(out.Titles, p.Titles...)
		}
		votes[p.ContentType]++
		if votes[p.ContentType] > votes[out.ContentType] {
			out.ContentType = p.ContentType
		}
		confidence += p.Confidence
	}
	out.Text = strings.Join(texts, "\n\n")
	if len(parts) > 0 {
		out.Confidence = confidence / float64(len(parts))
	}
	return out
}

func manualSummary(text string, originalWords int) *engine.Summary {
	return &engine.Summary{
		Text:          strings.TrimSpace(text),
		Tasks:         []engine.Task{},
		Reminders:     []engine.Reminder{},
		Titles:        []string{},
		ContentType:   engine.ContentGeneral,
		Engine:        ManualEngine,
		Confidence:    1,
		OriginalWords: originalWords,
		GeneratedAt:   time.Now().UTC(),
	}
}
