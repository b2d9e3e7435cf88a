// Command murmur turns long recordings into transcripts, summaries and action
// items.
//
//	murmur serve                 # HTTP health/metrics/events + inbox watcher
//	murmur process meeting.m4a   # one-shot run, prints the summary
//	murmur engines               # lists summarisation engines and availability
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/observe"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "murmur",
		Short:        "Transcribe and summarise long recordings",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newProcessCmd(&configPath),
		newEnginesCmd(&configPath),
	)
	return root
}

// ── serve ─────────────────────────────────────────────────────────────────────

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the inbox watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("murmur starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"version", version,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
		LogSpans:       cfg.Telemetry.LogSpans,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg,
		app.WithConfigPath(configPath),
		app.WithLogLevel(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	} else {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return err
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return runErr
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
		}
		return nil, err
	}
	return cfg, nil
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          murmur startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Transcription", describeProvider(cfg.Transcription.Provider))
	printRow("Fallbacks", fmt.Sprint(len(cfg.Transcription.Fallbacks)))
	printRow("Default engine", cfg.Summarization.Default)
	printRow("Engines", fmt.Sprint(len(cfg.Summarization.Engines)))
	printRow("Chunking", string(cfg.Chunking.Strategy))
	printRow("Store", string(cfg.Store.Driver))
	if cfg.Watch.Inbox != "" {
		printRow("Inbox", cfg.Watch.Inbox)
	} else {
		printRow("Inbox", "(disabled)")
	}
	if len(cfg.Events.Kafka.Brokers) > 0 {
		printRow("Kafka", cfg.Events.Kafka.Topic)
	} else {
		printRow("Kafka", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func describeProvider(p config.ProviderEntry) string {
	switch {
	case p.Name == "":
		return "(not configured)"
	case p.Model != "":
		return p.Name + " / " + p.Model
	}
	return p.Name
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
