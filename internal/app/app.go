// Package app wires all murmur subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP, drains the inbox and forwards events until the
// context ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithEngines,
// WithInspector, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/chunk"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/events"
	"github.com/MrWong99/murmur/internal/events/kafka"
	"github.com/MrWong99/murmur/internal/events/wsstream"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/job"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/internal/quality"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/internal/store"
	"github.com/MrWong99/murmur/internal/summarize"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/internal/watch"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	providers  *config.Registry
	configPath string
	logLevel   *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	store        store.Store
	bus          *events.Bus
	metrics      *observe.Metrics
	engines      *engine.Registry
	orchestrator *summarize.Orchestrator
	inspector    audio.Inspector
	exporter     audio.Exporter
	transcriber  stt.Transcriber
	backend      stt.JobBackend
	journal      *job.Journal
	tracker      *job.Tracker
	pipeline     *pipeline.Pipeline
	forwarder    *kafka.Forwarder
	inbox        *watch.Watcher
	cfgWatcher   *config.Watcher
	handler      http.Handler
	server       *http.Server

	// injectedEngines replaces the engines built from config.
	injectedEngines []engine.Engine

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithEngines replaces the engines built from summarization.engines.
func WithEngines(engines ...engine.Engine) Option {
	return func(a *App) { a.injectedEngines = engines }
}

// WithInspector injects the audio inspector instead of ffprobe.
func WithInspector(i audio.Inspector) Option {
	return func(a *App) { a.inspector = i }
}

// WithExporter injects the chunk exporter instead of ffmpeg.
func WithExporter(e audio.Exporter) Option {
	return func(a *App) { a.exporter = e }
}

// WithTranscriber injects a synchronous transcriber instead of the configured
// transcription provider.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithJobBackend injects an asynchronous transcription backend.
func WithJobBackend(b stt.JobBackend) Option {
	return func(a *App) { a.backend = b }
}

// WithMetrics replaces the global metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigPath enables hot reload of the config file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevel lets config reloads adjust the level of the default logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers builds the
// LLM and transcription backends named in cfg.
func New(ctx context.Context, cfg *config.Config, providers *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Event bus ─────────────────────────────────────────────────────
	a.bus = events.NewBus()
	a.closers = append(a.closers, func() error {
		a.bus.Close()
		return nil
	})

	// ── 3. Engines + orchestrator ────────────────────────────────────────
	if err := a.initEngines(ctx); err != nil {
		return nil, fmt.Errorf("app: init engines: %w", err)
	}
	a.initOrchestrator()

	// ── 4. Chunker, transcription and pipeline ───────────────────────────
	if err := a.initPipeline(ctx); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 5. Event forwarding ──────────────────────────────────────────────
	if err := a.initForwarder(); err != nil {
		return nil, fmt.Errorf("app: init kafka: %w", err)
	}

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	// ── 7. Inbox watcher ─────────────────────────────────────────────────
	if err := a.initInbox(); err != nil {
		return nil, fmt.Errorf("app: init inbox: %w", err)
	}

	// ── 8. Config hot reload ─────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.cfgWatcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	s, closeFn, err := store.Open(ctx, string(a.cfg.Store.Driver), a.cfg.Store.DSN)
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, closeFn)
	slog.Info("store opened", "driver", a.cfg.Store.Driver)
	return nil
}

func (a *App) initEngines(ctx context.Context) error {
	engines := a.injectedEngines
	if engines == nil {
		var err error
		engines, err = BuildEngines(a.cfg, a.providers)
		if err != nil {
			return err
		}
	}
	reg, err := engine.NewRegistry(engines, engine.WithStore(a.store), engine.WithEventPublisher(a.bus))
	if err != nil {
		return err
	}
	if _, err := reg.Restore(ctx); err != nil {
		return err
	}
	a.engines = reg
	return nil
}

func (a *App) initOrchestrator() {
	s := a.cfg.Summarization
	qcfg := quality.DefaultConfig()
	if s.MinWords > 0 {
		qcfg.MinWords = s.MinWords
	}
	if s.VerbatimWords > 0 {
		qcfg.VerbatimWords = s.VerbatimWords
	}
	a.orchestrator = summarize.New(a.engines,
		summarize.WithValidator(quality.New(qcfg)),
		summarize.WithSummaryStore(summarize.NewSummaryStore(a.store)),
		summarize.WithPublisher(a.bus),
		summarize.WithMetrics(a.metrics),
		summarize.WithEngineTimeout(s.EngineTimeout),
		summarize.WithRetryDelay(s.RetryDelay),
		summarize.WithWordBudget(s.WordBudget, s.WordOverlap),
		summarize.WithFailureHistory(s.FailureHistory),
	)
}

func (a *App) initPipeline(ctx context.Context) error {
	c := a.cfg.Chunking
	if a.inspector == nil {
		a.inspector = audio.NewFFProbeInspector(c.FFprobePath)
	}
	if a.exporter == nil {
		exp, err := audio.NewFFmpegExporter(c.FFmpegPath, c.TempDir)
		if err != nil {
			return err
		}
		a.exporter = exp
	}
	limit := chunk.DurationLimit(c.MaxDuration, c.Overlap)
	if c.Strategy == config.ChunkBySize {
		limit = chunk.ByteLimit(c.MaxBytes, c.Overlap)
	}
	chunker, err := chunk.New(a.inspector, a.exporter, limit,
		chunk.WithExportTimeout(c.ExportTimeout),
		chunk.WithConcurrency(c.ExportConcurrency),
		chunk.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	if err := a.initTranscription(ctx); err != nil {
		return err
	}

	t := a.cfg.Transcription
	a.journal = job.NewJournal(a.store)
	a.tracker = job.New(a.backend,
		job.WithName(t.Provider.Name),
		job.WithInterval(t.PollInterval),
		job.WithCeiling(t.JobTimeout),
		job.WithPublisher(a.bus),
		job.WithJournal(a.journal),
		job.WithMetrics(a.metrics),
	)

	popts := []pipeline.Option{
		pipeline.WithReassembler(transcript.NewReassembler()),
		pipeline.WithPublisher(a.bus),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithTimeout(a.cfg.Server.ProcessTimeout),
		pipeline.WithConcurrency(t.Concurrency),
	}
	if a.transcriber != nil {
		popts = append(popts, pipeline.WithTranscriber(a.transcriber))
	}
	p, err := pipeline.New(chunker, a.tracker, a.orchestrator, popts...)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

// initTranscription builds the configured backend unless one was injected.
// Asynchronous backends are used as is; synchronous ones are chained with
// their fallbacks.
func (a *App) initTranscription(ctx context.Context) error {
	if a.transcriber != nil || a.backend != nil {
		return nil
	}
	t := a.cfg.Transcription
	if t.Provider.Name == "" {
		return fmt.Errorf("transcription.provider: %w", pipeerr.ErrConfigurationMissing)
	}

	if a.providers.IsJobBackend(t.Provider.Name) {
		b, err := a.providers.CreateJobBackend(ctx, t.Provider)
		if err != nil {
			return fmt.Errorf("create job backend %q: %w", t.Provider.Name, err)
		}
		if c, ok := b.(interface{ Close() error }); ok {
			a.closers = append(a.closers, c.Close)
		}
		a.backend = b
		slog.Info("transcription backend created", "name", t.Provider.Name, "mode", "async")
		return nil
	}

	primary, err := a.createTranscriber(t.Provider)
	if err != nil {
		return err
	}
	if len(t.Fallbacks) == 0 {
		a.transcriber = primary
		return nil
	}
	fb := resilience.NewTranscriberFallback(primary, t.Provider.Name, resilience.FallbackConfig{
		OnFallback: func(from, to string, err error) {
			slog.Warn("transcription falling back", "from", from, "to", to, "err", err)
		},
	})
	for _, entry := range t.Fallbacks {
		tr, err := a.createTranscriber(entry)
		if err != nil {
			return err
		}
		fb.AddFallback(entry.Name, tr)
	}
	a.transcriber = fb
	return nil
}

func (a *App) createTranscriber(entry config.ProviderEntry) (stt.Transcriber, error) {
	tr, err := a.providers.CreateTranscriber(entry)
	if err != nil {
		return nil, fmt.Errorf("create transcriber %q: %w", entry.Name, err)
	}
	if c, ok := tr.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	slog.Info("transcription backend created", "name", entry.Name, "mode", "sync")
	return tr, nil
}

func (a *App) initForwarder() error {
	k := a.cfg.Events.Kafka
	if len(k.Brokers) == 0 {
		return nil
	}
	f, err := kafka.New(kafka.Config{
		Brokers:  k.Brokers,
		Topic:    k.Topic,
		ClientID: a.cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return err
	}
	a.forwarder = f
	a.closers = append(a.closers, f.Close)
	return nil
}

func (a *App) initHTTP() {
	h := health.New(
		health.PingCheck("store", a.store),
		health.EngineCheck(a.engines),
	)
	h.AddReport("/health/engines", func(context.Context) any { return a.orchestrator.HealthReport() })
	h.AddReport("/health/jobs", func(context.Context) any { return a.tracker.Active() })

	mux := http.NewServeMux()
	h.Register(mux)
	a.registerAPI(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if a.cfg.Events.WebSocket {
		mux.Handle("GET /events", wsstream.NewHandler(a.bus, wsstream.WithOriginPatterns(a.cfg.Events.OriginPatterns...)))
	}

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *App) initInbox() error {
	w := a.cfg.Watch
	if w.Inbox == "" {
		return nil
	}
	inbox, err := watch.New(w.Inbox, a.processInbox,
		watch.WithExtensions(w.Extensions...),
		watch.WithMaxConcurrent(w.MaxConcurrent),
		watch.WithSettle(w.Settle),
		watch.WithExisting(),
	)
	if err != nil {
		return err
	}
	a.inbox = inbox
	a.closers = append(a.closers, inbox.Close)
	return nil
}

// processInbox runs the pipeline for a file dropped into the inbox under a
// fresh recording id.
func (a *App) processInbox(ctx context.Context, path string) error {
	id := uuid.NewString()
	rep, err := a.pipeline.Process(ctx, id, path)
	if rep != nil {
		slog.Info("recording processed",
			"recording", id,
			"path", path,
			"status", rep.Status,
			"chunks", rep.Chunks,
			"elapsed", rep.Elapsed,
			"actions", rep.Actions,
		)
	}
	return err
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the recording pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Engines returns the engine registry.
func (a *App) Engines() *engine.Registry { return a.engines }

// Orchestrator returns the summarisation orchestrator.
func (a *App) Orchestrator() *summarize.Orchestrator { return a.orchestrator }

// Bus returns the event bus.
func (a *App) Bus() *events.Bus { return a.bus }

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, resumes journaled transcription jobs, watches the inbox
// and forwards events until ctx is cancelled. It returns ctx's error, or the
// first failure of a long-running component.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.tracker.Listen(gctx, a.bus)
		return nil
	})

	if a.backend != nil {
		a.resumeJobs(gctx, g)
	}

	if a.forwarder != nil {
		g.Go(func() error {
			err := a.forwarder.Run(gctx, a.bus)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.inbox != nil {
		g.Go(func() error {
			err := a.inbox.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	slog.Info("app running", "engine", a.engines.CurrentName(), "inbox", a.cfg.Watch.Inbox)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// resumeJobs picks up polling for jobs that were in flight at the last
// shutdown. Their outcome is reported through the event bus.
func (a *App) resumeJobs(ctx context.Context, g *errgroup.Group) {
	pending, err := a.journal.Pending(ctx)
	if err != nil {
		slog.Warn("could not read job journal", "err", err)
		return
	}
	for _, st := range pending {
		g.Go(func() error {
			out, err := a.tracker.Resume(ctx, st)
			if err != nil {
				slog.Warn("resumed job did not complete", "job", st.JobID, "recording", st.RecordingID, "err", err)
				return nil
			}
			slog.Info("resumed job completed", "job", st.JobID, "recording", st.RecordingID, "segments", len(out.Result.Segments))
			return nil
		})
	}
	if len(pending) > 0 {
		slog.Info("resuming transcription jobs", "count", len(pending))
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// onConfigChange applies the hot-reloadable parts of a config change.
func (a *App) onConfigChange(_, next *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.EnginesChanged {
		engines, err := BuildEngines(next, a.providers)
		if err != nil {
			slog.Error("config reload: engines not rebuilt", "err", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			current, err := a.engines.Replace(ctx, engines)
			cancel()
			if err != nil {
				slog.Error("config reload: engine registry rejected the new set", "err", err)
			} else {
				slog.Info("config reload: engines rebuilt", "changes", len(diff.EngineChanges), "current", current)
			}
		}
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config reload: some changes need a restart", "sections", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "running", a.pipeline.Running())

		for _, id := range a.pipeline.Running() {
			a.pipeline.Cancel(id)
		}

		for i, closer := range slices.Backward(a.closers) {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Engines ─────────────────────────────────────────────────────────────────

// BuildEngines creates the summarisation engines listed in cfg, with the
// default engine first so it wins the initial selection. An engine whose
// provider cannot be created is kept but reported unavailable.
func BuildEngines(cfg *config.Config, providers *config.Registry) ([]engine.Engine, error) {
	entries := slices.Clone(cfg.Summarization.Engines)
	if i := slices.IndexFunc(entries, func(e config.EngineEntry) bool { return e.Name == cfg.Summarization.Default }); i > 0 {
		def := entries[i]
		entries = slices.Delete(entries, i, i+1)
		entries = slices.Insert(entries, 0, def)
	}

	out := make([]engine.Engine, 0, len(entries)+1)
	for _, entry := range entries {
		if entry.Name == config.LocalEngine {
			out = append(out, engine.NewLocal())
			continue
		}
		kind, err := engine.ParseKind(entry.Name)
		if err != nil {
			return nil, err
		}
		opts := []engine.LLMOption{
			engine.WithCallTimeout(cfg.Summarization.EngineTimeout),
			engine.WithVersion(entry.Model),
		}
		if needsAPIKey(kind) && entry.APIKey == "" {
			opts = append(opts, engine.WithRequirements("API key"))
		}
		if !needsAPIKey(kind) && entry.BaseURL != "" {
			opts = append(opts, engine.WithPinger(httpPinger(entry.BaseURL)))
		}

		p, err := createLLM(providers, entry)
		if err != nil {
			if errors.Is(err, config.ErrProviderNotRegistered) {
				return nil, err
			}
			slog.Warn("engine provider unavailable", "engine", entry.Name, "err", err)
			opts = append(opts, engine.WithRequirements(err.Error()))
			p = nil
		}
		out = append(out, engine.NewLLM(kind, entry.Name, p, opts...))
	}
	return out, nil
}

// createLLM builds the provider of one engine entry, chained with its
// fallbacks when any are configured.
func createLLM(providers *config.Registry, entry config.EngineEntry) (llm.Provider, error) {
	primary, err := providers.CreateLLM(entry.ProviderEntry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{
		OnFallback: func(from, to string, err error) {
			slog.Warn("engine provider falling back", "engine", entry.Name, "from", from, "to", to, "err", err)
		},
	})
	for _, f := range entry.Fallbacks {
		p, err := providers.CreateLLM(f)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", f.Name, err)
		}
		fb.AddFallback(f.Name, p)
	}
	return fb, nil
}

// needsAPIKey reports whether engines of kind talk to a hosted API.
func needsAPIKey(k engine.Kind) bool {
	switch k {
	case engine.KindOllama, engine.KindLlamaCpp, engine.KindLlamaFile, engine.KindLocal:
		return false
	}
	return true
}

// httpPinger checks a self-hosted inference server. Any HTTP answer counts as
// reachable.
func httpPinger(baseURL string) engine.Pinger {
	client := &http.Client{Timeout: 5 * time.Second}
	return engine.PingerFunc(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})
}

// SlogLevel maps a config log level to its slog level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
