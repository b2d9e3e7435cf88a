// Package engine defines the summarisation engines and the registry that
// selects between them.
//
// An [Engine] turns a transcript into a [Summary]: a short text, extracted
// tasks and reminders, candidate titles and a content classification. The
// four capabilities are separate calls so that [Assemble] can run them
// concurrently and join the results before building the summary.
//
// Two families exist. [Local] is rule-based, needs nothing and is always
// available; it doubles as the offline fallback. [LLM] wraps an
// [llm.Provider] and is available only when configured, reachable and not
// tripped by its circuit breaker.
package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ContentType classifies what a recording is about.
type ContentType int

const (
	ContentGeneral ContentType = iota
	ContentMeeting
	ContentLecture
	ContentInterview
	ContentPersonal
	ContentTechnical
	ContentLyrics

	// ContentShort marks transcripts shown verbatim instead of summarised.
	ContentShort
)

var contentNames = [...]string{
	ContentGeneral:   "general",
	ContentMeeting:   "meeting",
	ContentLecture:   "lecture",
	ContentInterview: "interview",
	ContentPersonal:  "personal",
	ContentTechnical: "technical",
	ContentLyrics:    "lyrics",
	ContentShort:     "short",
}

func (c ContentType) String() string {
	if c >= 0 && int(c) < len(contentNames) {
		return contentNames[c]
	}
	return fmt.Sprintf("content(%d)", int(c))
}

// ParseContentType is the inverse of [ContentType.String].
func ParseContentType(s string) (ContentType, bool) {
	for i, n := range contentNames {
		if n == s {
			return ContentType(i), true
		}
	}
	return ContentGeneral, false
}

// MarshalText implements encoding.TextMarshaler.
func (c ContentType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode to
// [ContentGeneral].
func (c *ContentType) UnmarshalText(b []byte) error {
	*c, _ = ParseContentType(string(b))
	return nil
}

// Task is an action item found in a transcript.
type Task struct {
	Text     string `json:"text"`
	Owner    string `json:"owner,omitempty"`
	Due      string `json:"due,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// Reminder is a time-bound note found in a transcript.
type Reminder struct {
	Text string `json:"text"`
	When string `json:"when,omitempty"`
}

// Draft is the output of [Engine.GenerateSummary].
type Draft struct {
	Text       string
	Titles     []string
	Confidence float64
}

// Summary is the assembled result of one engine run.
type Summary struct {
	Text           string        `json:"text"`
	Tasks          []Task        `json:"tasks"`
	Reminders      []Reminder    `json:"reminders"`
	Titles         []string      `json:"titles"`
	ContentType    ContentType   `json:"content_type"`
	Engine         string        `json:"engine"`
	Confidence     float64       `json:"confidence"`
	OriginalWords  int           `json:"original_words"`
	ProcessingTime time.Duration `json:"processing_time"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

// Descriptor reports an engine's identity and current availability.
type Descriptor struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"-"`
	Available  bool   `json:"available"`
	ComingSoon bool   `json:"coming_soon"`

	// Requirements lists what is missing for the engine to become available.
	// Empty when Available is true.
	Requirements []string `json:"requirements,omitempty"`

	Version string `json:"version"`
}

// Engine is one summarisation backend. Implementations must be safe for
// concurrent use.
type Engine interface {
	Kind() Kind

	// Name is unique within a registry.
	Name() string

	// Descriptor re-evaluates availability. It may call out over the network.
	Descriptor(ctx context.Context) Descriptor

	GenerateSummary(ctx context.Context, text string) (Draft, error)
	ExtractTasks(ctx context.Context, text string) ([]Task, error)
	ExtractReminders(ctx context.Context, text string) ([]Reminder, error)
	ClassifyContent(ctx context.Context, text string) (ContentType, error)

	// ProcessComplete runs all four capabilities and assembles a Summary.
	ProcessComplete(ctx context.Context, text string) (*Summary, error)
}

// Assemble runs the four capabilities of e concurrently against text and
// builds a [Summary] once all of them returned. The first error cancels the
// others and is returned; no partial summary is produced.
func Assemble(ctx context.Context, e Engine, text string) (*Summary, error) {
	started := time.Now()

	var (
		draft     Draft
		tasks     []Task
		reminders []Reminder
		content   ContentType
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		draft, err = e.GenerateSummary(gctx, text)
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = e.ExtractTasks(gctx, text)
		return err
	})
	g.Go(func() error {
		var err error
		reminders, err = e.ExtractReminders(gctx, text)
		return err
	})
	g.Go(func() error {
		var err error
		content, err = e.ClassifyContent(gctx, text)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Summary{
		Text:           draft.Text,
		Tasks:          nonNil(tasks),
		Reminders:      nonNil(reminders),
		Titles:         nonNil(draft.Titles),
		ContentType:    content,
		Engine:         e.Name(),
		Confidence:     draft.Confidence,
		OriginalWords:  wordCount(text),
		ProcessingTime: time.Since(started),
		GeneratedAt:    time.Now().UTC(),
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
