package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// Pinger checks whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to [Pinger].
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// LLM is an engine backed by a completion provider. Every capability is one
// completion; tasks, reminders and the classification are requested as JSON
// and decoded into structured values.
type LLM struct {
	kind        Kind
	name        string
	provider    llm.Provider
	missing     []string
	comingSoon  bool
	pinger      Pinger
	breaker     *resilience.CircuitBreaker
	timeout     time.Duration
	temperature float64
	version     string
}

var _ Engine = (*LLM)(nil)

// LLMOption configures an [LLM] engine.
type LLMOption func(*LLM)

// WithRequirements marks the engine unavailable until the listed
// requirements (e.g. "API key") are met.
func WithRequirements(missing ...string) LLMOption {
	return func(e *LLM) { e.missing = append(e.missing, missing...) }
}

// WithComingSoon lists the engine without ever making it available.
func WithComingSoon() LLMOption {
	return func(e *LLM) { e.comingSoon = true }
}

// WithPinger adds a reachability check to [LLM.Descriptor].
func WithPinger(p Pinger) LLMOption {
	return func(e *LLM) { e.pinger = p }
}

// WithBreaker replaces the default circuit breaker configuration.
func WithBreaker(cfg resilience.CircuitBreakerConfig) LLMOption {
	return func(e *LLM) { e.breaker = newBreaker(e.name, cfg) }
}

// WithCallTimeout bounds each completion. Default: 2m.
func WithCallTimeout(d time.Duration) LLMOption {
	return func(e *LLM) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(t float64) LLMOption {
	return func(e *LLM) { e.temperature = t }
}

// WithVersion sets the version reported in the descriptor, usually the
// model name.
func WithVersion(v string) LLMOption {
	return func(e *LLM) { e.version = v }
}

// NewLLM returns an engine named name that completes through provider. A nil
// provider yields an engine that is never available.
func NewLLM(kind Kind, name string, provider llm.Provider, opts ...LLMOption) *LLM {
	e := &LLM{
		kind:        kind,
		name:        name,
		provider:    provider,
		timeout:     2 * time.Minute,
		temperature: 0.2,
	}
	e.breaker = newBreaker(name, resilience.CircuitBreakerConfig{})
	for _, o := range opts {
		o(e)
	}
	return e
}

func newBreaker(name string, cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	cfg.Name = "engine:" + name
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = time.Minute
	}
	if cfg.IsFailure == nil {
		// Oversized input and unparsable answers say nothing about the
		// backend's health.
		cfg.IsFailure = func(err error) bool {
			return err != nil &&
				!errors.Is(err, context.Canceled) &&
				!errors.Is(err, llm.ErrContextExceeded) &&
				!errors.Is(err, pipeerr.ErrInvalidResultFormat)
		}
	}
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = func(name string, from, to resilience.State) {
			slog.Info("engine: breaker state changed", "breaker", name, "from", from, "to", to)
		}
	}
	return resilience.NewCircuitBreaker(cfg)
}

func (e *LLM) Kind() Kind   { return e.kind }
func (e *LLM) Name() string { return e.name }

// Breaker exposes the engine's circuit breaker.
func (e *LLM) Breaker() *resilience.CircuitBreaker { return e.breaker }

// Descriptor evaluates configuration, reachability and breaker state.
func (e *LLM) Descriptor(ctx context.Context) Descriptor {
	d := Descriptor{Name: e.name, Kind: e.kind, ComingSoon: e.comingSoon, Version: e.version}
	if e.comingSoon {
		d.Requirements = append(d.Requirements, "not yet supported")
		return d
	}
	if e.provider == nil {
		d.Requirements = append(d.Requirements, "provider not configured")
	}
	d.Requirements = append(d.Requirements, e.missing...)
	if len(d.Requirements) == 0 {
		if !e.breaker.Allow() {
			d.Requirements = append(d.Requirements, "temporarily disabled after repeated failures")
		} else if e.pinger != nil {
			if err := e.pinger.Ping(ctx); err != nil {
				d.Requirements = append(d.Requirements, fmt.Sprintf("service unreachable: %v", err))
			}
		}
	}
	d.Available = len(d.Requirements) == 0
	return d
}

func (e *LLM) ProcessComplete(ctx context.Context, text string) (*Summary, error) {
	if e.provider == nil || len(e.missing) > 0 || e.comingSoon {
		return nil, &pipeerr.EngineUnavailableError{Name: e.name}
	}
	return Assemble(ctx, e, text)
}

const summaryPrompt = `You summarise transcripts of recordings (meetings, lectures, interviews, notes).
Write a concise summary that preserves decisions, open questions and commitments.
Also propose up to three short titles for the recording.
Answer with a JSON object: {"summary": string, "titles": [string], "confidence": number between 0 and 1}.`

const tasksPrompt = `Extract every action item from the transcript.
Answer with a JSON object: {"tasks": [{"text": string, "owner": string, "due": string, "priority": "low"|"normal"|"high"}]}.
Use empty strings for unknown fields and an empty list if there are no action items.`

const remindersPrompt = `Extract every time-bound reminder (appointments, deadlines, things not to forget) from the transcript.
Answer with a JSON object: {"reminders": [{"text": string, "when": string}]}.
Use an empty list if there are none.`

const classifyPrompt = `Classify the transcript as exactly one of: meeting, lecture, interview, personal, technical, lyrics, general.
Answer with a JSON object: {"content_type": string}.`

func (e *LLM) GenerateSummary(ctx context.Context, text string) (Draft, error) {
	if strings.TrimSpace(text) == "" {
		return Draft{Text: NoContentSummary}, nil
	}
	raw, err := e.complete(ctx, summaryPrompt, text)
	if err != nil {
		return Draft{}, err
	}
	var v struct {
		Summary    string   `json:"summary"`
		Titles     []string `json:"titles"`
		Confidence *float64 `json:"confidence"`
	}
	if err := decodeJSON(raw, &v); err != nil || strings.TrimSpace(v.Summary) == "" {
		// Models without a JSON mode sometimes answer in prose; that is
		// still a usable summary.
		return Draft{Text: strings.TrimSpace(raw), Confidence: 0.5}, nil
	}
	d := Draft{Text: strings.TrimSpace(v.Summary), Confidence: 0.75}
	if v.Confidence != nil {
		d.Confidence = min(max(*v.Confidence, 0), 1)
	}
	for _, t := range v.Titles {
		if t = strings.TrimSpace(t); t != "" && len(d.Titles) < 3 {
			d.Titles = append(d.Titles, t)
		}
	}
	return d, nil
}

func (e *LLM) ExtractTasks(ctx context.Context, text string) ([]Task, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	raw, err := e.complete(ctx, tasksPrompt, text)
	if err != nil {
		return nil, err
	}
	var v struct {
		Tasks []Task `json:"tasks"`
	}
	if err := decodeJSON(raw, &v); err != nil {
		return nil, fmt.Errorf("engine %s: tasks: %w", e.name, err)
	}
	out := v.Tasks[:0]
	for _, t := range v.Tasks {
		if t.Text = strings.TrimSpace(t.Text); t.Text != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *LLM) ExtractReminders(ctx context.Context, text string) ([]Reminder, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	raw, err := e.complete(ctx, remindersPrompt, text)
	if err != nil {
		return nil, err
	}
	var v struct {
		Reminders []Reminder `json:"reminders"`
	}
	if err := decodeJSON(raw, &v); err != nil {
		return nil, fmt.Errorf("engine %s: reminders: %w", e.name, err)
	}
	out := v.Reminders[:0]
	for _, r := range v.Reminders {
		if r.Text = strings.TrimSpace(r.Text); r.Text != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (e *LLM) ClassifyContent(ctx context.Context, text string) (ContentType, error) {
	if strings.TrimSpace(text) == "" {
		return ContentGeneral, nil
	}
	raw, err := e.complete(ctx, classifyPrompt, text)
	if err != nil {
		return ContentGeneral, err
	}
	var v struct {
		ContentType string `json:"content_type"`
	}
	if err := decodeJSON(raw, &v); err != nil {
		return ContentGeneral, fmt.Errorf("engine %s: classify: %w", e.name, err)
	}
	ct, _ := ParseContentType(strings.ToLower(strings.TrimSpace(v.ContentType)))
	return ct, nil
}

// complete sends one prompt through the breaker. An open breaker surfaces as
// [pipeerr.EngineUnavailableError].
func (e *LLM) complete(ctx context.Context, system, text string) (string, error) {
	if e.provider == nil {
		return "", &pipeerr.EngineUnavailableError{Name: e.name}
	}
	req := llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  e.temperature,
		JSON:         true,
	}
	fits, err := llm.Fits(e.provider, req)
	if err != nil {
		return "", fmt.Errorf("engine %s: count tokens: %w", e.name, err)
	}
	if !fits {
		return "", fmt.Errorf("engine %s: %w", e.name, llm.ErrContextExceeded)
	}

	var content string
	err = e.breaker.Execute(func() error {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		resp, err := e.provider.Complete(cctx, req)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %w", pipeerr.ErrProcessingTimeout, err)
			}
			return err
		}
		content = resp.Content
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", fmt.Errorf("%w: %w", &pipeerr.EngineUnavailableError{Name: e.name}, err)
	}
	if err != nil {
		return "", fmt.Errorf("engine %s: %w", e.name, err)
	}
	return content, nil
}

// decodeJSON extracts the outermost JSON object from raw, tolerating code
// fences and surrounding prose.
func decodeJSON(raw string, v any) error {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object in response", pipeerr.ErrInvalidResultFormat)
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %w", pipeerr.ErrInvalidResultFormat, err)
	}
	return nil
}
