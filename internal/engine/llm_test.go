package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/llm/mock"
)

func routed(summary, tasks, reminders, classify string) func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		var out string
		switch req.SystemPrompt {
		case summaryPrompt:
			out = summary
		case tasksPrompt:
			out = tasks
		case remindersPrompt:
			out = reminders
		case classifyPrompt:
			out = classify
		}
		return &llm.CompletionResponse{Content: out}, nil
	}
}

func TestLLMProcessComplete(t *testing.T) {
	p := &mock.Provider{ResponseFunc: routed(
		`{"summary": "The team agreed on the roadmap.", "titles": ["Roadmap", " "], "confidence": 1.7}`,
		"```json\n{\"tasks\": [{\"text\": \"ship v2\", \"owner\": \"Kim\", \"priority\": \"high\"}, {\"text\": \"  \"}]}\n```",
		`Sure! {"reminders": [{"text": "standup", "when": "9am"}]}`,
		`{"content_type": " Meeting "}`,
	)}
	e := NewLLM(KindOpenAI, "openai", p)

	s, err := e.ProcessComplete(context.Background(), "we talked about the roadmap and Kim will ship v2")
	if err != nil {
		t.Fatalf("ProcessComplete: %v", err)
	}
	if s.Text != "The team agreed on the roadmap." {
		t.Errorf("Text = %q", s.Text)
	}
	if s.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", s.Confidence)
	}
	if len(s.Titles) != 1 || s.Titles[0] != "Roadmap" {
		t.Errorf("Titles = %q, want [Roadmap]", s.Titles)
	}
	if len(s.Tasks) != 1 || s.Tasks[0] != (Task{Text: "ship v2", Owner: "Kim", Priority: "high"}) {
		t.Errorf("Tasks = %+v", s.Tasks)
	}
	if len(s.Reminders) != 1 || s.Reminders[0].When != "9am" {
		t.Errorf("Reminders = %+v", s.Reminders)
	}
	if s.ContentType != ContentMeeting {
		t.Errorf("ContentType = %v, want meeting", s.ContentType)
	}
	if s.Engine != "openai" {
		t.Errorf("Engine = %q", s.Engine)
	}
	if got := p.CallCount(); got != 4 {
		t.Errorf("provider calls = %d, want 4", got)
	}
	for _, c := range p.CompleteCalls {
		if !c.Req.JSON {
			t.Error("request without JSON mode")
		}
	}
}

func TestLLMProseSummaryIsKept(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  A plain prose summary.  "}}
	e := NewLLM(KindOllama, "ollama", p)
	d, err := e.GenerateSummary(context.Background(), "some transcript")
	if err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	if d.Text != "A plain prose summary." || d.Confidence != 0.5 {
		t.Fatalf("Draft = %+v", d)
	}
}

func TestLLMMalformedAnswerDoesNotTripBreaker(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "I cannot help with that"}}
	e := NewLLM(KindGroq, "groq", p)
	for range 5 {
		_, err := e.ExtractTasks(context.Background(), "text")
		if !errors.Is(err, pipeerr.ErrInvalidResultFormat) {
			t.Fatalf("err = %v, want ErrInvalidResultFormat", err)
		}
	}
	if got := e.Breaker().State(); got != resilience.StateClosed {
		t.Fatalf("breaker state = %v, want closed", got)
	}
}

func TestLLMBreakerOpensAfterFailures(t *testing.T) {
	p := &mock.Provider{CompleteErr: errors.New("503 service unavailable")}
	e := NewLLM(KindMistral, "mistral", p)
	ctx := context.Background()

	for range 3 {
		if _, err := e.ClassifyContent(ctx, "text"); err == nil {
			t.Fatal("ClassifyContent succeeded, want error")
		}
	}
	_, err := e.ClassifyContent(ctx, "text")
	if !errors.Is(err, pipeerr.ErrEngineUnavailable) {
		t.Fatalf("err = %v, want ErrEngineUnavailable", err)
	}
	if got := p.CallCount(); got != 3 {
		t.Errorf("provider calls = %d, want 3", got)
	}
	d := e.Descriptor(ctx)
	if d.Available {
		t.Fatal("descriptor available with open breaker")
	}
	if len(d.Requirements) != 1 || !strings.Contains(d.Requirements[0], "repeated failures") {
		t.Errorf("Requirements = %q", d.Requirements)
	}
}

func TestLLMContextExceeded(t *testing.T) {
	p := &mock.Provider{
		TokenCount:        500,
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 400, MaxOutputTokens: 100},
	}
	e := NewLLM(KindDeepSeek, "deepseek", p)
	for range 4 {
		_, err := e.ExtractReminders(context.Background(), "long text")
		if !errors.Is(err, llm.ErrContextExceeded) {
			t.Fatalf("err = %v, want ErrContextExceeded", err)
		}
	}
	if p.CallCount() != 0 {
		t.Errorf("provider was called %d times", p.CallCount())
	}
	if e.Breaker().State() != resilience.StateClosed {
		t.Error("oversized input tripped the breaker")
	}
}

func TestLLMDescriptor(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		engine    *LLM
		available bool
		contains  string
	}{
		{"ready", NewLLM(KindOpenAI, "a", &mock.Provider{}), true, ""},
		{"no provider", NewLLM(KindOpenAI, "b", nil), false, "provider not configured"},
		{"missing key", NewLLM(KindAnthropic, "c", &mock.Provider{}, WithRequirements("API key")), false, "API key"},
		{"coming soon", NewLLM(KindLlamaFile, "d", &mock.Provider{}, WithComingSoon()), false, "not yet supported"},
		{"unreachable", NewLLM(KindLlamaCpp, "e", &mock.Provider{}, WithPinger(PingerFunc(func(context.Context) error {
			return errors.New("connection refused")
		}))), false, "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.engine.Descriptor(ctx)
			if d.Available != tt.available {
				t.Fatalf("Available = %v, want %v (%q)", d.Available, tt.available, d.Requirements)
			}
			if tt.contains != "" && !strings.Contains(strings.Join(d.Requirements, ";"), tt.contains) {
				t.Errorf("Requirements = %q, want mention of %q", d.Requirements, tt.contains)
			}
		})
	}
}

func TestLLMUnconfiguredProcessComplete(t *testing.T) {
	e := NewLLM(KindGemini, "gemini", nil)
	_, err := e.ProcessComplete(context.Background(), "text")
	var ue *pipeerr.EngineUnavailableError
	if !errors.As(err, &ue) || ue.Name != "gemini" {
		t.Fatalf("err = %v, want EngineUnavailableError for gemini", err)
	}
}

func TestAssembleFailsWholeOnError(t *testing.T) {
	p := &mock.Provider{ResponseFunc: routed(`{"summary": "ok"}`, `{"tasks": []}`, "garbage", `{"content_type": "general"}`)}
	e := NewLLM(KindOpenAI, "openai", p)
	s, err := Assemble(context.Background(), e, "text")
	if err == nil || s != nil {
		t.Fatalf("Assemble = %v, %v, want error and no summary", s, err)
	}
	if !errors.Is(err, pipeerr.ErrInvalidResultFormat) {
		t.Errorf("err = %v, want ErrInvalidResultFormat", err)
	}
}
