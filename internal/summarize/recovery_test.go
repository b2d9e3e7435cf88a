package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/engine/mock"
	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/pkg/provider/llm"
)

func TestRecoverNextEngine(t *testing.T) {
	ctx := context.Background()
	bad := newMock("openai", true)
	bad.Err = errors.New("down")
	good := newMock("gemini", true)
	good.Summary = goodSummary()
	o, reg := setup(t, []engine.Engine{bad, good})

	out, err := o.Recover(ctx, RecoveryRequest{RecordingID: "rec-1", Text: transcriptText, Action: ActionNextEngine})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if out.Summary.Engine != "gemini" || reg.CurrentName() != "gemini" {
		t.Fatalf("engine = %q, current = %q, want gemini", out.Summary.Engine, reg.CurrentName())
	}
	if bad.CallCount() != 0 {
		t.Errorf("failing engine called %d times", bad.CallCount())
	}
}

func TestRecoverRetryFailureIsReported(t *testing.T) {
	ctx := context.Background()
	m := newMock("openai", true)
	m.Err = errors.New("still down")
	o, _ := setup(t, []engine.Engine{m})

	_, err := o.Recover(ctx, RecoveryRequest{RecordingID: "rec-1", Text: transcriptText, Action: ActionRetry})
	if err == nil || !strings.Contains(err.Error(), "still down") {
		t.Fatalf("err = %v, want engine error", err)
	}
	if len(o.Failures()) != 1 {
		t.Errorf("Failures = %d, want 1", len(o.Failures()))
	}
	if _, err := o.Summaries().Get(ctx, "rec-1"); err == nil {
		t.Error("failed recovery persisted a summary")
	}
}

func TestRecoverShorten(t *testing.T) {
	var (
		mu     sync.Mutex
		pieces []string
	)
	m := newMock("openai", true)
	m.ProcessFunc = func(_ context.Context, text string) (*engine.Summary, error) {
		mu.Lock()
		pieces = append(pieces, text)
		n := len(pieces)
		mu.Unlock()
		return &engine.Summary{
			Text:       fmt.Sprintf("Part %d covers roadmap and budget details.", n),
			Tasks:      []engine.Task{{Text: "Draft timeline"}},
			Confidence: 0.6,
		}, nil
	}
	o, _ := setup(t, []engine.Engine{m}, WithWordBudget(10, 2))

	out, err := o.Recover(context.Background(), RecoveryRequest{RecordingID: "rec-1", Text: transcriptText, Action: ActionShorten})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	words := len(strings.Fields(transcriptText))
	want := (words + 9) / 10
	if len(pieces) != want {
		t.Fatalf("pieces = %d, want %d", len(pieces), want)
	}
	for i, p := range pieces {
		if n := len(strings.Fields(p)); n > 12 {
			t.Errorf("piece %d has %d words, want <= 12", i, n)
		}
	}
	if len(out.Summary.Tasks) != 1 {
		t.Errorf("Tasks = %+v, want duplicates merged", out.Summary.Tasks)
	}
	if !strings.HasPrefix(out.Summary.Text, "Part 1") || strings.Count(out.Summary.Text, "Part ") != want {
		t.Errorf("Text = %q", out.Summary.Text)
	}
	if out.Summary.Engine != "openai" {
		t.Errorf("Engine = %q", out.Summary.Engine)
	}
}

func TestRecoverWaitAndRetry(t *testing.T) {
	m := newMock("openai", true)
	m.Summary = goodSummary()
	var slept time.Duration
	o, _ := setup(t, []engine.Engine{m},
		WithRetryDelay(42*time.Second),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = d
			return nil
		}))

	if _, err := o.Recover(context.Background(), RecoveryRequest{RecordingID: "r", Text: transcriptText, Action: ActionWaitAndRetry}); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if slept != 42*time.Second {
		t.Fatalf("slept %v, want 42s", slept)
	}
	if m.CallCount() != 1 {
		t.Errorf("engine calls = %d, want 1", m.CallCount())
	}
}

func TestRecoverCheckConnectivity(t *testing.T) {
	ctx := context.Background()
	m := newMock("openai", true)
	m.Summary = goodSummary()
	o, _ := setup(t, []engine.Engine{m})

	m.SetAvailable(false, "service unreachable: dial tcp: connection refused")
	_, err := o.Recover(ctx, RecoveryRequest{RecordingID: "r", Text: transcriptText, Action: ActionCheckConnectivity})
	if !errors.Is(err, pipeerr.ErrEngineUnavailable) {
		t.Fatalf("err = %v, want ErrEngineUnavailable", err)
	}
	if m.CallCount() != 0 {
		t.Fatal("unreachable engine was called")
	}

	m.SetAvailable(true)
	out, err := o.Recover(ctx, RecoveryRequest{RecordingID: "r", Text: transcriptText, Action: ActionCheckConnectivity})
	if err != nil {
		t.Fatalf("Recover after reconnect: %v", err)
	}
	if out.Summary.Engine != "openai" {
		t.Errorf("Engine = %q", out.Summary.Engine)
	}
}

func TestRecoverUseOffline(t *testing.T) {
	m := newMock("openai", true)
	o, reg := setup(t, []engine.Engine{m})

	out, err := o.Recover(context.Background(), RecoveryRequest{RecordingID: "r", Text: transcriptText, Action: ActionUseOffline})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if reg.CurrentName() != "local" || out.Summary.Engine != "local" {
		t.Fatalf("current = %q, engine = %q, want local", reg.CurrentName(), out.Summary.Engine)
	}
	if out.Fallback {
		t.Error("explicit offline selection reported as fallback")
	}
}

func TestRecoverManualSummary(t *testing.T) {
	ctx := context.Background()
	o, _ := setup(t, nil)

	if _, err := o.Recover(ctx, RecoveryRequest{RecordingID: "r", Action: ActionManualSummary, Manual: "  "}); err == nil {
		t.Fatal("empty manual summary accepted")
	}
	out, err := o.Recover(ctx, RecoveryRequest{RecordingID: "r", Text: "too short", Action: ActionManualSummary, Manual: "Notes from the call."})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if out.Summary.Engine != ManualEngine || out.Summary.Text != "Notes from the call." || out.Status != StatusSuccess {
		t.Fatalf("outcome = %+v", out)
	}
	if need, err := o.NeedsRegeneration(ctx, "r"); err != nil || need {
		t.Errorf("NeedsRegeneration = %v, %v, want false for manual summaries", need, err)
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	failing := func() *mock.Engine {
		m := newMock("openai", true)
		m.Err = errors.New("down")
		return m
	}
	working := func(name string) *mock.Engine {
		m := newMock(name, true)
		m.Summary = goodSummary()
		return m
	}

	tests := []struct {
		name       string
		primary    *mock.Engine
		req        RecoveryRequest
		wantEngine string
	}{
		{"retry", working("openai"), RecoveryRequest{Action: ActionRetry}, "openai"},
		{"next engine after failure", failing(), RecoveryRequest{Action: ActionNextEngine}, "gemini"},
		{"next engine from request", working("openai"), RecoveryRequest{Action: ActionNextEngine, From: "openai"}, "gemini"},
		{"shorten", working("openai"), RecoveryRequest{Action: ActionShorten}, "openai"},
		{"wait and retry", working("openai"), RecoveryRequest{Action: ActionWaitAndRetry}, "openai"},
		{"check connectivity", working("openai"), RecoveryRequest{Action: ActionCheckConnectivity}, "openai"},
		{"use offline", working("openai"), RecoveryRequest{Action: ActionUseOffline}, "local"},
		{"manual summary", working("openai"), RecoveryRequest{Action: ActionManualSummary, Manual: "Notes from the call."}, ManualEngine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			o, reg := setup(t, []engine.Engine{tt.primary, working("gemini"), working("anthropic")},
				WithSleep(func(context.Context, time.Duration) error { return nil }))
			if _, err := o.ProcessComplete(ctx, "r", transcriptText); err != nil {
				t.Fatalf("ProcessComplete: %v", err)
			}

			req := tt.req
			req.RecordingID = "r"
			req.Text = transcriptText
			for attempt := range 2 {
				out, err := o.Recover(ctx, req)
				if err != nil {
					t.Fatalf("attempt %d: %v", attempt, err)
				}
				if out.Summary.Engine != tt.wantEngine {
					t.Errorf("attempt %d: engine = %q, want %q", attempt, out.Summary.Engine, tt.wantEngine)
				}
				if tt.wantEngine != ManualEngine && reg.CurrentName() != tt.wantEngine {
					t.Errorf("attempt %d: current = %q, want %q", attempt, reg.CurrentName(), tt.wantEngine)
				}
			}
			all, _ := o.Summaries().All(ctx)
			if len(all) != 1 {
				t.Fatalf("records = %d, want 1", len(all))
			}
		})
	}
}

func TestSuggestedActions(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		first RecoveryAction
		none  bool
	}{
		{"nil", nil, 0, true},
		{"conflict", pipeerr.ErrConflictingOperation, 0, true},
		{"cancelled", context.Canceled, 0, true},
		{"insufficient", pipeerr.ErrInsufficientContent, ActionManualSummary, false},
		{"too long", fmt.Errorf("engine x: %w", llm.ErrContextExceeded), ActionShorten, false},
		{"unavailable", &pipeerr.EngineUnavailableError{Name: "x"}, ActionCheckConnectivity, false},
		{"timeout", pipeerr.ErrProcessingTimeout, ActionWaitAndRetry, false},
		{"garbage", pipeerr.ErrInvalidResultFormat, ActionRetry, false},
		{"other", errors.New("boom"), ActionRetry, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SuggestedActions(tt.err)
			if tt.none {
				if len(got) != 0 {
					t.Fatalf("SuggestedActions = %v, want none", got)
				}
				return
			}
			if len(got) == 0 || got[0] != tt.first {
				t.Fatalf("SuggestedActions = %v, want %v first", got, tt.first)
			}
		})
	}
}

func TestRecoveryActionNames(t *testing.T) {
	for a := ActionRetry; a <= ActionManualSummary; a++ {
		got, err := ParseRecoveryAction(a.String())
		if err != nil || got != a {
			t.Errorf("ParseRecoveryAction(%q) = %v, %v", a, got, err)
		}
	}
	if _, err := ParseRecoveryAction("pray"); err == nil {
		t.Error("ParseRecoveryAction accepted an unknown name")
	}
}

func TestShortenInputMergesContentTypeVotes(t *testing.T) {
	calls := 0
	m := &mock.Engine{EngineName: "openai", EngineKind: engine.KindOpenAI}
	m.ProcessFunc = func(context.Context, string) (*engine.Summary, error) {
		calls++
		ct := engine.ContentMeeting
		if calls == 1 {
			ct = engine.ContentLecture
		}
		return &engine.Summary{Text: "part", ContentType: ct, Confidence: float64(calls) / 10, Titles: []string{fmt.Sprint(calls)}}, nil
	}
	sum, err := ShortenInput(context.Background(), m, "one two three four five six seven", 3, 0)
	if err != nil {
		t.Fatalf("ShortenInput: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if sum.ContentType != engine.ContentMeeting {
		t.Errorf("ContentType = %v, want meeting", sum.ContentType)
	}
	if len(sum.Titles) != 1 || sum.Titles[0] != "1" {
		t.Errorf("Titles = %q, want first piece's", sum.Titles)
	}
	if sum.OriginalWords != 7 {
		t.Errorf("OriginalWords = %d, want 7", sum.OriginalWords)
	}
	if want := (0.1 + 0.2 + 0.3) / 3; sum.Confidence < want-1e-9 || sum.Confidence > want+1e-9 {
		t.Errorf("Confidence = %v, want %v", sum.Confidence, want)
	}

	if _, err := ShortenInput(context.Background(), m, "   ", 3, 0); err == nil {
		t.Error("ShortenInput accepted empty text")
	}
}
