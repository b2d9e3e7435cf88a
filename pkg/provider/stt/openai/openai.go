// Package openai provides a synchronous transcription backend backed by the
// OpenAI audio API (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/murmur/pkg/provider/stt"
)

const defaultModel = "whisper-1"

// Provider implements stt.Transcriber using the OpenAI audio API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

var _ stt.Transcriber = (*Provider)(nil)

type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server speaking
// the same /audio/transcriptions protocol works (e.g. a local faster-whisper
// gateway).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets an ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI transcription Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Transcribe implements stt.Transcriber. It requests verbose_json so segment
// timings are available.
func (p *Provider) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("openai: open %q: %w", path, err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		File:           f,
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcription: %w", err)
	}
	res, err := decodeVerbose(resp.RawJSON())
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if res.Text == "" {
		res.Text = strings.TrimSpace(resp.Text)
	}
	return res, nil
}

// decodeVerbose extracts text, language and segments from a verbose_json
// transcription body. Segment times are seconds.
func decodeVerbose(raw string) (*stt.Result, error) {
	var body struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if raw == "" {
		return &stt.Result{}, nil
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, fmt.Errorf("decode verbose_json: %w", err)
	}
	res := &stt.Result{Text: strings.TrimSpace(body.Text), Language: body.Language}
	for _, s := range body.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		res.Segments = append(res.Segments, stt.Segment{
			Text:  text,
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
		})
	}
	if len(res.Segments) == 0 && res.Text != "" {
		res.Segments = []stt.Segment{{Text: res.Text}}
	}
	return res, nil
}
