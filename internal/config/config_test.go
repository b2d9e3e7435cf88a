package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	llmmock "github.com/MrWong99/murmur/pkg/provider/llm/mock"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	sttmock "github.com/MrWong99/murmur/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: info
  process_timeout: 2h

chunking:
  strategy: duration
  max_duration: 5m
  overlap: 3s
  export_concurrency: 2
  temp_dir: /var/tmp/murmur

transcription:
  provider:
    name: google
    options:
      language: en-US
  poll_interval: 10s
  job_timeout: 45m
  concurrency: 3

summarization:
  engines:
    - name: openai
      api_key: sk-test
      model: gpt-4o-mini
      fallbacks:
        - name: anthropic
          api_key: sk-ant
    - name: ollama
      base_url: http://localhost:11434
      model: llama3
  default: ollama
  engine_timeout: 2m

store:
  driver: sqlite
  dsn: /var/lib/murmur/murmur.db

events:
  websocket: true
  kafka:
    brokers: ["kafka:9092"]

watch:
  inbox: /srv/inbox
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.ProcessTimeout != 2*time.Hour {
		t.Errorf("server.process_timeout: got %s, want 2h", cfg.Server.ProcessTimeout)
	}
	if cfg.Chunking.MaxDuration != 5*time.Minute || cfg.Chunking.Overlap != 3*time.Second {
		t.Errorf("chunking: got %s/%s, want 5m/3s", cfg.Chunking.MaxDuration, cfg.Chunking.Overlap)
	}
	if cfg.Transcription.Provider.Name != "google" || cfg.Transcription.JobTimeout != 45*time.Minute {
		t.Errorf("transcription: got %+v", cfg.Transcription)
	}
	if len(cfg.Summarization.Engines) != 2 {
		t.Fatalf("summarization.engines: got %d, want 2", len(cfg.Summarization.Engines))
	}
	openai := cfg.Summarization.Engines[0]
	if openai.Name != "openai" || openai.Model != "gpt-4o-mini" || openai.APIKey != "sk-test" {
		t.Errorf("engines[0]: got %+v", openai)
	}
	if len(openai.Fallbacks) != 1 || openai.Fallbacks[0].Name != "anthropic" {
		t.Errorf("engines[0].fallbacks: got %+v", openai.Fallbacks)
	}
	if cfg.Summarization.Default != "ollama" {
		t.Errorf("summarization.default: got %q, want ollama", cfg.Summarization.Default)
	}
	if cfg.Store.Driver != config.StoreSQLite {
		t.Errorf("store.driver: got %q", cfg.Store.Driver)
	}
	if cfg.Events.Kafka.Topic != config.DefaultKafkaTopic {
		t.Errorf("events.kafka.topic: got %q, want default", cfg.Events.Kafka.Topic)
	}
	if len(cfg.Watch.Extensions) == 0 || cfg.Watch.MaxConcurrent != 1 {
		t.Errorf("watch defaults not applied: %+v", cfg.Watch)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("LoadFromReader(%q): %v", doc, err)
		}
		if cfg.Summarization.Default != config.LocalEngine {
			t.Errorf("default engine = %q, want %q", cfg.Summarization.Default, config.LocalEngine)
		}
		if cfg.Store.Driver != config.StoreMemory {
			t.Errorf("store.driver = %q, want memory", cfg.Store.Driver)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for misspelled field, got nil")
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &config.Config{}
	cfg.Chunking.Overlap = 5 * time.Second
	cfg.Summarization.MinWords = 4
	config.ApplyDefaults(cfg)

	if cfg.Chunking.Overlap != 5*time.Second {
		t.Errorf("overlap: got %s, want 5s", cfg.Chunking.Overlap)
	}
	if cfg.Summarization.MinWords != 4 {
		t.Errorf("min_words: got %d, want 4", cfg.Summarization.MinWords)
	}
	if cfg.Summarization.VerbatimWords != config.DefaultVerbatimWords {
		t.Errorf("verbatim_words: got %d, want %d", cfg.Summarization.VerbatimWords, config.DefaultVerbatimWords)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"invalid log level", "server:\n  log_level: verbose\n", "log_level"},
		{"invalid strategy", "chunking:\n  strategy: bitrate\n", "chunking.strategy"},
		{"overlap too long", "chunking:\n  max_duration: 10s\n  overlap: 10s\n", "chunking.overlap"},
		{"negative size limit", "chunking:\n  strategy: size\n  max_bytes: -1\n", "max_bytes"},
		{"unknown engine", "summarization:\n  engines:\n    - name: eliza\n", "not a known engine"},
		{"duplicate engine", "summarization:\n  engines:\n    - name: openai\n    - name: openai\n", "duplicate"},
		{"missing engine name", "summarization:\n  engines:\n    - model: x\n", "name is required"},
		{"default not configured", "summarization:\n  engines:\n    - name: openai\n  default: gemini\n", "summarization.default"},
		{"verbatim below min", "summarization:\n  min_words: 30\n  verbatim_words: 20\n", "min_words"},
		{"overlap above budget", "summarization:\n  word_budget: 10\n  word_overlap: 10\n", "word_overlap"},
		{"invalid store driver", "store:\n  driver: redis\n", "store.driver"},
		{"missing dsn", "store:\n  driver: postgres\n", "store.dsn"},
		{"tls half configured", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
		{"bad extension", "watch:\n  inbox: /in\n  extensions: [wav]\n", "watch.extensions"},
		{"negative timeout", "summarization:\n  engine_timeout: -1s\n", "engine_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_LocalEngineIsAlwaysKnown(t *testing.T) {
	yaml := `
summarization:
  engines:
    - name: local
    - name: gemini
      api_key: g
  default: local
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.Store.Driver = "redis"
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "store.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}

	if _, err := reg.CreateLLM(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateTranscriber(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTranscriber: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateJobBackend(context.Background(), entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateJobBackend: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	reg := config.NewRegistry()
	wantLLM := &llmmock.Provider{}
	wantTr := &sttmock.Transcriber{}
	wantJob := &sttmock.JobBackend{}
	reg.RegisterLLM("stub", func(config.ProviderEntry) (llm.Provider, error) { return wantLLM, nil })
	reg.RegisterTranscriber("stub", func(config.ProviderEntry) (stt.Transcriber, error) { return wantTr, nil })
	reg.RegisterJobBackend("cloud", func(context.Context, config.ProviderEntry) (stt.JobBackend, error) { return wantJob, nil })

	if got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub"}); err != nil || got != wantLLM {
		t.Errorf("CreateLLM = %v, %v", got, err)
	}
	if got, err := reg.CreateTranscriber(config.ProviderEntry{Name: "stub"}); err != nil || got != wantTr {
		t.Errorf("CreateTranscriber = %v, %v", got, err)
	}
	if got, err := reg.CreateJobBackend(context.Background(), config.ProviderEntry{Name: "cloud"}); err != nil || got != wantJob {
		t.Errorf("CreateJobBackend = %v, %v", got, err)
	}
	if !reg.IsJobBackend("cloud") || reg.IsJobBackend("stub") {
		t.Error("IsJobBackend mismatch")
	}
	if names := reg.Names("transcriber"); len(names) != 1 || names[0] != "stub" {
		t.Errorf("Names(transcriber) = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}
