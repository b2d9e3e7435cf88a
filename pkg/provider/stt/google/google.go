// Package google provides an asynchronous transcription backend using Google
// Cloud Speech-to-Text long-running recognition.
//
// Submit starts a LongRunningRecognize operation and returns the operation
// name as the job id. Operation names are stable server-side, so a process
// that restarts can keep polling a job it submitted earlier without
// re-uploading the audio.
//
// Requires Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS or
// workload identity).
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MrWong99/murmur/pkg/provider/stt"
)

const (
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000
)

// recognizer is the slice of the Speech client the backend needs.
type recognizer interface {
	submit(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (string, error)
	poll(ctx context.Context, name string) (done bool, resp *speechpb.LongRunningRecognizeResponse, err error)
	close() error
}

// clientRecognizer adapts *speech.Client.
type clientRecognizer struct {
	c *speech.Client
}

func (r clientRecognizer) submit(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (string, error) {
	op, err := r.c.LongRunningRecognize(ctx, req)
	if err != nil {
		return "", err
	}
	return op.Name(), nil
}

func (r clientRecognizer) poll(ctx context.Context, name string) (bool, *speechpb.LongRunningRecognizeResponse, error) {
	op := r.c.LongRunningRecognizeOperation(name)
	resp, err := op.Poll(ctx)
	// A finished operation that failed reports Done() with a non-nil error;
	// an unfinished one with an error means the poll itself failed.
	return op.Done(), resp, err
}

func (r clientRecognizer) close() error { return r.c.Close() }

// Option is a functional option for Backend.
type Option func(*Backend)

// WithLanguage sets the BCP-47 recognition language. Defaults to "en-US".
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.language = lang }
}

// WithSampleRate sets the sample rate of submitted LINEAR16 audio.
// Defaults to 16000, matching the chunk exporter's output.
func WithSampleRate(hz int) Option {
	return func(b *Backend) { b.sampleRate = hz }
}

// WithDiarization enables speaker diarisation with the given speaker range.
func WithDiarization(minSpeakers, maxSpeakers int) Option {
	return func(b *Backend) {
		b.diarize = true
		b.minSpeakers, b.maxSpeakers = minSpeakers, maxSpeakers
	}
}

// WithModel selects a recognition model such as "latest_long" or "video".
func WithModel(model string) Option {
	return func(b *Backend) { b.model = model }
}

// Backend implements stt.JobBackend on top of Google long-running recognition.
type Backend struct {
	rec         recognizer
	language    string
	sampleRate  int
	model       string
	diarize     bool
	minSpeakers int
	maxSpeakers int

	mu   sync.Mutex
	done map[string]*speechpb.LongRunningRecognizeResponse
}

var _ stt.JobBackend = (*Backend)(nil)

// New creates a Backend with a fresh Speech client.
func New(ctx context.Context, opts ...Option) (*Backend, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google: create speech client: %w", err)
	}
	return newBackend(clientRecognizer{c: c}, opts...), nil
}

func newBackend(rec recognizer, opts ...Option) *Backend {
	b := &Backend{
		rec:        rec,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		done:       make(map[string]*speechpb.LongRunningRecognizeResponse),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Close releases the underlying gRPC connection.
func (b *Backend) Close() error {
	return b.rec.close()
}

// Submit implements stt.JobBackend. Paths starting with "gs://" are passed by
// reference; anything else is read and sent inline.
func (b *Backend) Submit(ctx context.Context, path string) (string, error) {
	audio := &speechpb.RecognitionAudio{}
	if strings.HasPrefix(path, "gs://") {
		audio.AudioSource = &speechpb.RecognitionAudio_Uri{Uri: path}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("google: read %q: %w", path, err)
		}
		audio.AudioSource = &speechpb.RecognitionAudio_Content{Content: data}
	}

	cfg := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(b.sampleRate),
		LanguageCode:               b.language,
		EnableWordTimeOffsets:      true,
		EnableAutomaticPunctuation: true,
		Model:                      b.model,
	}
	if b.diarize {
		cfg.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(b.minSpeakers),
			MaxSpeakerCount:          int32(b.maxSpeakers),
		}
	}

	name, err := b.rec.submit(ctx, &speechpb.LongRunningRecognizeRequest{Config: cfg, Audio: audio})
	if err != nil {
		return "", fmt.Errorf("google: long running recognize: %w", err)
	}
	return name, nil
}

// Poll implements stt.JobBackend. A completed job's locator is its operation
// name; the response is kept until Fetch collects it.
func (b *Backend) Poll(ctx context.Context, jobID string) (stt.JobStatus, error) {
	done, resp, err := b.rec.poll(ctx, jobID)
	switch {
	case status.Code(err) == codes.NotFound:
		return stt.JobStatus{}, fmt.Errorf("google: poll %s: %w", jobID, stt.ErrJobNotFound)
	case done && err != nil:
		return stt.JobStatus{State: stt.JobFailed, Reason: err.Error()}, nil
	case err != nil:
		return stt.JobStatus{}, fmt.Errorf("google: poll %s: %w", jobID, err)
	case !done:
		return stt.JobStatus{State: stt.JobRunning}, nil
	}

	b.mu.Lock()
	b.done[jobID] = resp
	b.mu.Unlock()
	return stt.JobStatus{State: stt.JobDone, Locator: jobID}, nil
}

// Fetch implements stt.JobBackend. If this process did not observe the
// completion (e.g. after a restart) the operation is polled once more.
func (b *Backend) Fetch(ctx context.Context, locator string) (*stt.Result, error) {
	b.mu.Lock()
	resp, ok := b.done[locator]
	delete(b.done, locator)
	b.mu.Unlock()

	if !ok {
		done, r, err := b.rec.poll(ctx, locator)
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("google: fetch %s: %w", locator, stt.ErrJobNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("google: fetch %s: %w", locator, err)
		}
		if !done {
			return nil, fmt.Errorf("google: fetch %s: %w", locator, errNotDone)
		}
		resp = r
	}
	return convert(resp), nil
}

var errNotDone = errors.New("operation not finished")

// convert maps recognition results onto stt segments. Each result becomes one
// segment spanning its first word to its end offset. With diarisation the
// speaker tag of the first word labels the segment.
func convert(resp *speechpb.LongRunningRecognizeResponse) *stt.Result {
	res := &stt.Result{}
	if resp == nil {
		return res
	}
	var parts []string
	var prevEnd time.Duration
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		alt := alts[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}
		if res.Language == "" {
			res.Language = r.GetLanguageCode()
		}
		seg := stt.Segment{Text: text, Start: prevEnd, End: r.GetResultEndTime().AsDuration()}
		if words := alt.GetWords(); len(words) > 0 {
			seg.Start = words[0].GetStartTime().AsDuration()
			if tag := words[0].GetSpeakerTag(); tag > 0 {
				seg.Speaker = fmt.Sprintf("Speaker %d", tag)
			}
		}
		if seg.End < seg.Start {
			seg.End = seg.Start
		}
		prevEnd = seg.End
		parts = append(parts, text)
		res.Segments = append(res.Segments, seg)
	}
	res.Text = strings.Join(parts, " ")
	return res
}
