// Package config provides the configuration schema, loader, and provider
// registry for the murmur recording processor.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ChunkStrategy selects what the chunk limit measures.
type ChunkStrategy string

const (
	// ChunkBySize limits each chunk's estimated byte size.
	ChunkBySize ChunkStrategy = "size"

	// ChunkByDuration limits each chunk's playback duration.
	ChunkByDuration ChunkStrategy = "duration"
)

// IsValid reports whether s is a recognised strategy.
func (s ChunkStrategy) IsValid() bool {
	return s == ChunkBySize || s == ChunkByDuration
}

// StoreDriver selects the persistence backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreFile     StoreDriver = "file"
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// IsValid reports whether d is a recognised driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StoreFile, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Summarization SummarizationConfig `yaml:"summarization"`
	Store         StoreConfig         `yaml:"store"`
	Events        EventsConfig        `yaml:"events"`
	Watch         WatchConfig         `yaml:"watch"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ProcessTimeout bounds one recording's whole pipeline run. Zero means
	// no limit.
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ChunkingConfig controls how long recordings are cut before transcription.
type ChunkingConfig struct {
	Strategy ChunkStrategy `yaml:"strategy"`

	// MaxBytes is the per-chunk limit for the size strategy.
	MaxBytes int64 `yaml:"max_bytes"`

	// MaxDuration is the per-chunk limit for the duration strategy.
	MaxDuration time.Duration `yaml:"max_duration"`

	// Overlap is the audio shared by consecutive chunks. When the key is
	// absent [DefaultOverlap] applies; an explicit 0s disables overlap.
	Overlap time.Duration `yaml:"overlap"`

	ExportTimeout     time.Duration `yaml:"export_timeout"`
	ExportConcurrency int           `yaml:"export_concurrency"`

	// TempDir receives exported chunk files. Empty uses the OS temp dir.
	TempDir string `yaml:"temp_dir"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// TranscriptionConfig selects the transcription backend.
type TranscriptionConfig struct {
	// Provider is the primary backend. It is looked up as a job backend
	// first and as a synchronous transcriber otherwise.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are synchronous transcribers tried in order when the primary
	// synchronous transcriber fails. Ignored for job backends.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// JobTimeout is the ceiling for one asynchronous job.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// Concurrency is how many chunks of one recording are transcribed at
	// once.
	Concurrency int `yaml:"concurrency"`
}

// SummarizationConfig declares the engines and orchestration limits.
type SummarizationConfig struct {
	// Engines are registered in this order. The built-in offline engine is
	// always available and need not be listed.
	Engines []EngineEntry `yaml:"engines"`

	// Default is the engine selected on first start, before any persisted
	// selection exists.
	Default string `yaml:"default"`

	EngineTimeout time.Duration `yaml:"engine_timeout"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	// MinWords and VerbatimWords bound short transcripts: fewer than
	// MinWords are rejected, up to VerbatimWords are passed through.
	MinWords      int `yaml:"min_words"`
	VerbatimWords int `yaml:"verbatim_words"`

	// WordBudget and WordOverlap size the pieces used when shortening input.
	WordBudget  int `yaml:"word_budget"`
	WordOverlap int `yaml:"word_overlap"`

	FailureHistory int `yaml:"failure_history"`
}

// EngineEntry configures one summarisation engine.
type EngineEntry struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks are LLM providers tried, in order, when the primary provider
	// errors. The engine keeps its own name and kind.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// StoreConfig selects where summaries, the engine selection and the job
// journal are persisted.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is a directory for the file driver, a database path for sqlite and
	// a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// EventsConfig controls where bus events are forwarded.
type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`

	// WebSocket serves the live event stream at /events.
	WebSocket bool `yaml:"websocket"`

	// OriginPatterns lists the hosts allowed to open the event stream.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// KafkaConfig enables the Kafka forwarder when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// WatchConfig enables the inbox watcher when Inbox is set.
type WatchConfig struct {
	Inbox string `yaml:"inbox"`

	// Extensions lists the file extensions picked up, with leading dot.
	Extensions []string `yaml:"extensions"`

	MaxConcurrent int `yaml:"max_concurrent"`

	// Settle is how long a file must stay unchanged before it is processed.
	Settle time.Duration `yaml:"settle"`
}

// TelemetryConfig configures exported metrics and traces.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of pipeline runs traced, in [0, 1].
	// Defaults to [DefaultTraceSampleRatio] when the key is absent.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`

	// LogSpans writes finished spans to the log at debug level.
	LogSpans bool `yaml:"log_spans"`
}
