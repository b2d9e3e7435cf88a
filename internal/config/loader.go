package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "openai", "deepgram", "google"},
}

// LocalEngine is the name of the built-in offline engine.
const LocalEngine = "local"

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultMaxDuration       = 10 * time.Minute
	DefaultMaxBytes          = 25 << 20
	DefaultOverlap           = 2 * time.Second
	DefaultExportTimeout     = 5 * time.Minute
	DefaultEngineTimeout     = 5 * time.Minute
	DefaultRetryDelay        = 30 * time.Second
	DefaultMinWords          = 10
	DefaultVerbatimWords     = 20
	DefaultWordBudget        = 3000
	DefaultWordOverlap       = 50
	DefaultFailureHistory    = 50
	DefaultWatchSettle       = 2 * time.Second
	DefaultServiceName       = "murmur"
	DefaultTraceSampleRatio  = 1.0
	DefaultKafkaTopic        = "murmur.events"
	DefaultTranscribeWorkers = 1
)

// DefaultExtensions are the inbox file types picked up when none are
// configured.
var DefaultExtensions = []string{".m4a", ".mp3", ".wav", ".flac", ".ogg", ".webm", ".mp4"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// seededConfig returns the config YAML is decoded into. It carries the
// defaults of fields where zero is a meaningful setting, so those defaults
// apply only when the key is absent.
func seededConfig() *Config {
	cfg := &Config{}
	cfg.Chunking.Overlap = DefaultOverlap
	cfg.Telemetry.TraceSampleRatio = DefaultTraceSampleRatio
	return cfg
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := seededConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := seededConfig()
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero field that has a default. Explicit values
// are left alone. Fields where zero is a valid setting are not touched here;
// see seededConfig.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}

	c := &cfg.Chunking
	if c.Strategy == "" {
		c.Strategy = ChunkByDuration
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.ExportTimeout == 0 {
		c.ExportTimeout = DefaultExportTimeout
	}
	if c.ExportConcurrency == 0 {
		c.ExportConcurrency = 1
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.FFprobePath == "" {
		c.FFprobePath = "ffprobe"
	}

	if cfg.Transcription.Concurrency == 0 {
		cfg.Transcription.Concurrency = DefaultTranscribeWorkers
	}

	s := &cfg.Summarization
	if s.Default == "" {
		s.Default = LocalEngine
		if len(s.Engines) > 0 {
			s.Default = s.Engines[0].Name
		}
	}
	if s.EngineTimeout == 0 {
		s.EngineTimeout = DefaultEngineTimeout
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = DefaultRetryDelay
	}
	if s.MinWords == 0 {
		s.MinWords = DefaultMinWords
	}
	if s.VerbatimWords == 0 {
		s.VerbatimWords = DefaultVerbatimWords
	}
	if s.WordBudget == 0 {
		s.WordBudget = DefaultWordBudget
	}
	if s.WordOverlap == 0 {
		s.WordOverlap = DefaultWordOverlap
	}
	if s.FailureHistory == 0 {
		s.FailureHistory = DefaultFailureHistory
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreMemory
	}
	if len(cfg.Events.Kafka.Brokers) > 0 && cfg.Events.Kafka.Topic == "" {
		cfg.Events.Kafka.Topic = DefaultKafkaTopic
	}

	if cfg.Watch.Inbox != "" {
		if len(cfg.Watch.Extensions) == 0 {
			cfg.Watch.Extensions = slices.Clone(DefaultExtensions)
		}
		if cfg.Watch.MaxConcurrent == 0 {
			cfg.Watch.MaxConcurrent = 1
		}
		if cfg.Watch.Settle == 0 {
			cfg.Watch.Settle = DefaultWatchSettle
		}
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	errs = appendNegative(errs, "server.process_timeout", cfg.Server.ProcessTimeout)

	// Chunking
	c := cfg.Chunking
	switch {
	case !c.Strategy.IsValid():
		errs = append(errs, fmt.Errorf("chunking.strategy %q is invalid; valid values: size, duration", c.Strategy))
	case c.Strategy == ChunkBySize && c.MaxBytes <= 0:
		errs = append(errs, fmt.Errorf("chunking.max_bytes must be positive for the size strategy, got %d", c.MaxBytes))
	case c.Strategy == ChunkByDuration && c.MaxDuration <= 0:
		errs = append(errs, fmt.Errorf("chunking.max_duration must be positive for the duration strategy, got %s", c.MaxDuration))
	case c.Strategy == ChunkByDuration && c.Overlap >= c.MaxDuration:
		errs = append(errs, fmt.Errorf("chunking.overlap %s must be shorter than max_duration %s", c.Overlap, c.MaxDuration))
	}
	errs = appendNegative(errs, "chunking.overlap", c.Overlap)
	errs = appendNegative(errs, "chunking.export_timeout", c.ExportTimeout)
	if c.ExportConcurrency < 0 {
		errs = append(errs, fmt.Errorf("chunking.export_concurrency must not be negative, got %d", c.ExportConcurrency))
	}

	// Transcription
	t := cfg.Transcription
	validateProviderName("stt", t.Provider.Name)
	for i, fb := range t.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("transcription.fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	errs = appendNegative(errs, "transcription.poll_interval", t.PollInterval)
	errs = appendNegative(errs, "transcription.job_timeout", t.JobTimeout)
	if t.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("transcription.concurrency must not be negative, got %d", t.Concurrency))
	}
	if t.Provider.Name == "" {
		slog.Warn("transcription.provider is not configured; recordings cannot be transcribed")
	}

	// Summarization
	s := cfg.Summarization
	seen := make(map[string]int, len(s.Engines))
	for i, e := range s.Engines {
		prefix := fmt.Sprintf("summarization.engines[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of summarization.engines[%d]", prefix, e.Name, prev))
		}
		seen[e.Name] = i
		if e.Name != LocalEngine && !slices.Contains(ValidProviderNames["llm"], e.Name) {
			errs = append(errs, fmt.Errorf("%s.name %q is not a known engine; valid values: local, %v", prefix, e.Name, ValidProviderNames["llm"]))
		}
		for j, fb := range e.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", prefix, j))
			}
			validateProviderName("llm", fb.Name)
		}
	}
	if _, ok := seen[s.Default]; s.Default != "" && s.Default != LocalEngine && !ok {
		errs = append(errs, fmt.Errorf("summarization.default %q is not one of the configured engines", s.Default))
	}
	errs = appendNegative(errs, "summarization.engine_timeout", s.EngineTimeout)
	errs = appendNegative(errs, "summarization.retry_delay", s.RetryDelay)
	if s.MinWords < 0 || s.VerbatimWords < s.MinWords {
		errs = append(errs, fmt.Errorf("summarization.min_words %d and verbatim_words %d must satisfy 0 <= min_words <= verbatim_words", s.MinWords, s.VerbatimWords))
	}
	if s.WordBudget < 0 || s.WordOverlap < 0 || (s.WordBudget > 0 && s.WordOverlap >= s.WordBudget) {
		errs = append(errs, fmt.Errorf("summarization.word_overlap %d must be smaller than word_budget %d", s.WordOverlap, s.WordBudget))
	}
	if s.FailureHistory < 0 {
		errs = append(errs, fmt.Errorf("summarization.failure_history must not be negative, got %d", s.FailureHistory))
	}

	// Store
	switch d := cfg.Store.Driver; {
	case d != "" && !d.IsValid():
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, file, sqlite, postgres", d))
	case d != "" && d != StoreMemory && cfg.Store.DSN == "":
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", d))
	}
	if cfg.Store.Driver == StoreMemory || cfg.Store.Driver == "" {
		slog.Debug("store.driver is memory; summaries and the engine selection are lost on restart")
	}

	// Events
	if k := cfg.Events.Kafka; len(k.Brokers) > 0 && k.Topic == "" {
		errs = append(errs, errors.New("events.kafka.topic is required when brokers are set"))
	}

	// Watch
	if w := cfg.Watch; w.Inbox != "" {
		if w.MaxConcurrent < 0 {
			errs = append(errs, fmt.Errorf("watch.max_concurrent must not be negative, got %d", w.MaxConcurrent))
		}
		for i, ext := range w.Extensions {
			if len(ext) < 2 || ext[0] != '.' {
				errs = append(errs, fmt.Errorf("watch.extensions[%d] %q must start with a dot", i, ext))
			}
		}
		errs = appendNegative(errs, "watch.settle", w.Settle)
	}

	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be within [0, 1]", r))
	}

	return errors.Join(errs...)
}

func appendNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s must not be negative, got %s", field, d))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
