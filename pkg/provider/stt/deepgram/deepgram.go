// Package deepgram provides a synchronous transcription backend using the
// Deepgram pre-recorded API. It implements stt.Transcriber and requests
// speaker diarisation so segments carry speaker labels.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/murmur/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
)

// Keyword is a vocabulary hint with a boost intensity, sent as
// "keyword:boost". Useful for names and jargon the model would otherwise
// misspell.
type Keyword struct {
	Word  string
	Boost float64
}

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords sets vocabulary hints applied to every request.
func WithKeywords(kw ...Keyword) Option {
	return func(p *Provider) {
		p.keywords = append(p.keywords, kw...)
	}
}

// WithEndpoint overrides the API endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Transcriber backed by the Deepgram pre-recorded API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	keywords   []Keyword
	endpoint   string
	httpClient *http.Client
}

var _ stt.Transcriber = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// buildURL constructs the request URL with recognition options.
func (p *Provider) buildURL() (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("diarize", "true")
	q.Set("utterances", "true")
	for _, kw := range p.keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Word, kw.Boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Transcribe streams the file body to Deepgram and decodes the utterances.
func (p *Provider) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("deepgram: open %q: %w", path, err)
	}
	defer f.Close()

	endpoint, err := p.buildURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	res, err := parseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	return res, nil
}

// listenResponse is the subset of the pre-recorded response we use.
type listenResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Transcript string  `json:"transcript"`
			Speaker    int     `json:"speaker"`
		} `json:"utterances"`
	} `json:"results"`
}

// parseResponse converts a Deepgram body into an stt.Result. Utterances become
// segments labelled "Speaker N" (1-based).
func parseResponse(data []byte) (*stt.Result, error) {
	var r listenResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	res := &stt.Result{}
	if len(r.Results.Channels) > 0 {
		ch := r.Results.Channels[0]
		res.Language = ch.DetectedLanguage
		if len(ch.Alternatives) > 0 {
			res.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
		}
	}
	for _, u := range r.Results.Utterances {
		text := strings.TrimSpace(u.Transcript)
		if text == "" {
			continue
		}
		res.Segments = append(res.Segments, stt.Segment{
			Speaker: fmt.Sprintf("Speaker %d", u.Speaker+1),
			Text:    text,
			Start:   time.Duration(u.Start * float64(time.Second)),
			End:     time.Duration(u.End * float64(time.Second)),
		})
	}
	if len(res.Segments) == 0 && res.Text != "" {
		res.Segments = []stt.Segment{{Text: res.Text}}
	}
	return res, nil
}
