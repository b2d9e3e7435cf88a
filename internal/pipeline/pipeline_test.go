package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/murmur/internal/chunk"
	"github.com/MrWong99/murmur/internal/engine"
	enginemock "github.com/MrWong99/murmur/internal/engine/mock"
	"github.com/MrWong99/murmur/internal/events"
	"github.com/MrWong99/murmur/internal/job"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/internal/summarize"
	"github.com/MrWong99/murmur/pkg/audio"
	audiomock "github.com/MrWong99/murmur/pkg/audio/mock"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	sttmock "github.com/MrWong99/murmur/pkg/provider/stt/mock"
)

const sec = time.Second

var lines = []string{
	"We reviewed the quarterly roadmap with the whole product group this morning.",
	"Marketing presented three launch options and finance raised concerns about the hiring budget.",
	"Anna will draft a revised timeline before Friday.",
	"Ben collects vendor quotes for the new analytics platform.",
}

type fixture struct {
	metrics *observe.Metrics
	bus     *events.Bus
	exp     *audiomock.Exporter
	engine  *enginemock.Engine
	orch    *summarize.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	e := &enginemock.Engine{EngineName: "openai", EngineKind: engine.KindOpenAI, Available: true}
	e.Summary = &engine.Summary{
		Text:          "The team agreed on a revised roadmap and budget.",
		Tasks:         []engine.Task{{Text: "draft a revised timeline", Owner: "Anna"}},
		Confidence:    0.9,
		OriginalWords: 45,
	}
	reg, err := engine.NewRegistry([]engine.Engine{e})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	bus := events.NewBus(events.WithBuffer(64))
	return &fixture{
		metrics: m,
		bus:     bus,
		exp:     &audiomock.Exporter{Dir: t.TempDir()},
		engine:  e,
		orch:    summarize.New(reg, summarize.WithMetrics(m), summarize.WithPublisher(bus)),
	}
}

// pipeline builds a pipeline over a recording of the given length, chunked
// at 300s with 2s overlap.
func (f *fixture) pipeline(t *testing.T, length time.Duration, tracker *job.Tracker, opts ...Option) *Pipeline {
	t.Helper()
	ch, err := chunk.New(&audiomock.Inspector{Info: audio.Info{Duration: length, Size: 1 << 20}}, f.exp,
		chunk.DurationLimit(300*sec, 2*sec), chunk.WithMetrics(f.metrics))
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	if tracker == nil {
		tracker = job.New(nil, job.WithMetrics(f.metrics), job.WithPublisher(f.bus))
	}
	base := []Option{WithMetrics(f.metrics), WithPublisher(f.bus)}
	p, err := New(ch, tracker, f.orch, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// sequential answers the n-th transcription call with lines[n].
func sequential() *sttmock.Transcriber {
	var n atomic.Int32
	return &sttmock.Transcriber{ResultFunc: func(string) (*stt.Result, error) {
		i := int(n.Add(1)) - 1
		return &stt.Result{Text: lines[i%len(lines)], Segments: []stt.Segment{{Text: lines[i%len(lines)], End: 5 * sec}}}, nil
	}}
}

// blocking answers every call with the full text once release is closed.
// started receives one value per call.
func blocking() (tr *sttmock.Transcriber, started chan struct{}, release chan struct{}) {
	started = make(chan struct{}, 8)
	release = make(chan struct{})
	tr = &sttmock.Transcriber{ResultFunc: func(string) (*stt.Result, error) {
		started <- struct{}{}
		<-release
		return &stt.Result{Text: strings.Join(lines, " ")}, nil
	}}
	return tr, started, release
}

func remaining(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	return len(entries)
}

func TestProcess_SplitRecording(t *testing.T) {
	f := newFixture(t)
	tr := sequential()
	p := f.pipeline(t, 1000*sec, nil, WithTranscriber(tr))

	rep, err := p.Process(context.Background(), "rec-1", "/recordings/standup.m4a")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rep.Status != summarize.StatusSuccess {
		t.Fatalf("status = %v (%s), want success", rep.Status, rep.Reason)
	}
	if rep.Chunks != 4 || !rep.Split {
		t.Errorf("chunks = %d split = %v, want 4 true", rep.Chunks, rep.Split)
	}
	if tr.CallCount() != 4 {
		t.Errorf("transcriptions = %d, want 4", tr.CallCount())
	}
	if got := rep.Transcript.SegmentCount(); got != 4 {
		t.Errorf("segments = %d, want 4", got)
	}
	if want := strings.Join(lines, "\n"); f.engine.ProcessCalls[0] != want {
		t.Errorf("engine input = %q, want %q", f.engine.ProcessCalls[0], want)
	}
	if n := remaining(t, f.exp.Dir); n != 0 {
		t.Errorf("%d chunk files left behind", n)
	}
	if _, err := f.orch.Summaries().Get(context.Background(), "rec-1"); err != nil {
		t.Errorf("summary not stored: %v", err)
	}
}

func TestProcess_AsyncBackend(t *testing.T) {
	f := newFixture(t)
	b := &sttmock.JobBackend{
		JobID: "j1",
		Polls: []sttmock.PollResponse{
			{Status: stt.JobStatus{State: stt.JobRunning}},
			{Status: stt.JobStatus{State: stt.JobDone, Locator: "loc"}},
		},
		FetchResult: &stt.Result{Text: strings.Join(lines, " ")},
	}
	tracker := job.New(b, job.WithInterval(time.Millisecond), job.WithMetrics(f.metrics))
	p := f.pipeline(t, 120*sec, tracker)

	rep, err := p.Process(context.Background(), "rec-1", "/recordings/short.m4a")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rep.Chunks != 1 || rep.Split {
		t.Errorf("chunks = %d split = %v, want 1 false", rep.Chunks, rep.Split)
	}
	if b.SubmitCount() != 1 || b.SubmitPaths[0] != "/recordings/short.m4a" {
		t.Errorf("submitted = %v, want the original file", b.SubmitPaths)
	}
	if rep.Summary == nil || rep.Summary.Summary.Engine != "openai" {
		t.Fatalf("summary = %+v", rep.Summary)
	}
}

func TestProcess_TranscriptionFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	var n atomic.Int32
	tr := &sttmock.Transcriber{ResultFunc: func(string) (*stt.Result, error) {
		if n.Add(1) == 2 {
			return nil, errors.New("backend rejected audio")
		}
		return &stt.Result{Text: lines[0]}, nil
	}}
	p := f.pipeline(t, 1000*sec, nil, WithTranscriber(tr))

	rep, err := p.Process(context.Background(), "rec-1", "/recordings/standup.m4a")
	if !errors.Is(err, pipeerr.ErrJobFailed) {
		t.Fatalf("err = %v, want ErrJobFailed", err)
	}
	if rep.Status != summarize.StatusFailed || rep.Reason == "" {
		t.Errorf("report = %+v, want failed with reason", rep)
	}
	if len(rep.Actions) == 0 {
		t.Error("no recovery actions suggested")
	}
	if f.engine.CallCount() != 0 {
		t.Errorf("engine called %d times after failed transcription", f.engine.CallCount())
	}
	if n := remaining(t, f.exp.Dir); n != 0 {
		t.Errorf("%d chunk files left behind", n)
	}
}

func TestProcess_InsufficientContent(t *testing.T) {
	f := newFixture(t)
	tr := &sttmock.Transcriber{Result: &stt.Result{Text: "thank you"}}
	p := f.pipeline(t, 60*sec, nil, WithTranscriber(tr))

	rep, err := p.Process(context.Background(), "rec-1", "/recordings/empty.m4a")
	if !errors.Is(err, pipeerr.ErrInsufficientContent) {
		t.Fatalf("err = %v, want ErrInsufficientContent", err)
	}
	if len(rep.Actions) != 1 || rep.Actions[0] != summarize.ActionManualSummary {
		t.Errorf("actions = %v, want [manual_summary]", rep.Actions)
	}
}

func TestProcess_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	tr, started, release := blocking()
	p := f.pipeline(t, 60*sec, nil, WithTranscriber(tr))

	var (
		wg    sync.WaitGroup
		first error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, first = p.Process(context.Background(), "rec-1", "/recordings/a.m4a")
	}()
	<-started

	rep, err := p.Process(context.Background(), "rec-1", "/recordings/a.m4a")
	if !errors.Is(err, pipeerr.ErrConflictingOperation) {
		t.Fatalf("err = %v, want ErrConflictingOperation", err)
	}
	if rep.Status != summarize.StatusFailed {
		t.Errorf("status = %v, want failed", rep.Status)
	}
	if ids := p.Running(); len(ids) != 1 || ids[0] != "rec-1" {
		t.Errorf("Running() = %v", ids)
	}

	close(release)
	wg.Wait()
	if first != nil {
		t.Fatalf("first run: %v", first)
	}
	if len(p.Running()) != 0 {
		t.Errorf("Running() = %v after completion", p.Running())
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	tr, started, release := blocking()
	p := f.pipeline(t, 1000*sec, nil, WithTranscriber(tr))

	if p.Cancel("rec-1") {
		t.Fatal("Cancel reported a run before one started")
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Process(context.Background(), "rec-1", "/recordings/long.m4a")
		done <- err
	}()
	<-started
	if !p.Cancel("rec-1") {
		t.Fatal("Cancel = false for running recording")
	}
	close(release)

	err := <-done
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if f.engine.CallCount() != 0 {
		t.Error("engine called after cancellation")
	}
	if n := remaining(t, f.exp.Dir); n != 0 {
		t.Errorf("%d chunk files left behind", n)
	}
}

func TestProcess_Timeout(t *testing.T) {
	f := newFixture(t)
	tr := &sttmock.Transcriber{ResultFunc: func(string) (*stt.Result, error) {
		time.Sleep(50 * time.Millisecond)
		return &stt.Result{Text: lines[0]}, nil
	}}
	p := f.pipeline(t, 60*sec, nil, WithTranscriber(tr), WithTimeout(10*time.Millisecond))

	_, err := p.Process(context.Background(), "rec-1", "/recordings/a.m4a")
	if !errors.Is(err, pipeerr.ErrProcessingTimeout) {
		t.Fatalf("err = %v, want ErrProcessingTimeout", err)
	}
}

func TestRename_WhileRunning(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.bus.Subscribe(events.NameRecordingRenamed)
	defer cancel()
	tr, started, release := blocking()
	p := f.pipeline(t, 60*sec, nil, WithTranscriber(tr))

	done := make(chan *Report, 1)
	go func() {
		rep, _ := p.Process(context.Background(), "rec-1", "/recordings/a.m4a")
		done <- rep
	}()
	<-started

	if err := p.Rename(context.Background(), "rec-1", "rec-2"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if p.Cancel("rec-1") {
		t.Error("old id still cancellable after rename")
	}
	close(release)

	rep := <-done
	if rep.RecordingID != "rec-2" || rep.Status != summarize.StatusSuccess {
		t.Fatalf("report = %+v, want success under rec-2", rep)
	}
	if _, err := f.orch.Summaries().Get(context.Background(), "rec-2"); err != nil {
		t.Errorf("summary not stored under new id: %v", err)
	}
	select {
	case e := <-ch:
		r := e.(events.RecordingRenamed)
		if r.OldID != "rec-1" || r.NewID != "rec-2" {
			t.Errorf("event = %+v", r)
		}
	case <-time.After(time.Second):
		t.Error("no rename event")
	}
}

func TestRename_DuringSummarization(t *testing.T) {
	f := newFixture(t)
	summarizing := make(chan struct{})
	release := make(chan struct{})
	sum := *f.engine.Summary
	sum.Engine = "openai"
	f.engine.ProcessFunc = func(context.Context, string) (*engine.Summary, error) {
		close(summarizing)
		<-release
		out := sum
		return &out, nil
	}
	p := f.pipeline(t, 1000*sec, nil, WithTranscriber(sequential()))

	done := make(chan *Report, 1)
	go func() {
		rep, _ := p.Process(context.Background(), "rec-1", "/recordings/a.m4a")
		done <- rep
	}()
	<-summarizing

	if err := p.Rename(context.Background(), "rec-1", "rec-2"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	close(release)

	rep := <-done
	if rep.RecordingID != "rec-2" || rep.Status != summarize.StatusSuccess {
		t.Fatalf("report id = %q status = %v (%s), want success under rec-2", rep.RecordingID, rep.Status, rep.Reason)
	}
	if _, err := f.orch.Summaries().Get(context.Background(), "rec-2"); err != nil {
		t.Errorf("summary not stored under new id: %v", err)
	}
	if _, err := f.orch.Summaries().Get(context.Background(), "rec-1"); err == nil {
		t.Error("summary still stored under old id")
	}
}

func TestRename_Rejects(t *testing.T) {
	f := newFixture(t)
	tr, started, release := blocking()
	defer close(release)
	p := f.pipeline(t, 60*sec, nil, WithTranscriber(tr))

	go p.Process(context.Background(), "busy", "/recordings/a.m4a")
	<-started

	tests := []struct {
		name     string
		old, new string
		want     error
	}{
		{"empty", "rec-1", "", nil},
		{"same", "rec-1", "rec-1", nil},
		{"taken", "rec-1", "busy", pipeerr.ErrConflictingOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Rename(context.Background(), tt.old, tt.new)
			if err == nil {
				t.Fatal("Rename succeeded")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(nil, nil, nil); !errors.Is(err, pipeerr.ErrConfigurationMissing) {
		t.Fatalf("err = %v, want ErrConfigurationMissing", err)
	}
}
