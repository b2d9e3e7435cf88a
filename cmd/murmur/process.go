package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/pipeline"
)

func newProcessCmd(configPath *string) *cobra.Command {
	var (
		id         string
		asJSON     bool
		timestamps bool
	)
	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Transcribe and summarise a single recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			return process(cmd.Context(), cmd.OutOrStdout(), *configPath, id, args[0], asJSON, timestamps)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "recording id (default: random UUID)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&timestamps, "timestamps", false, "print the transcript with timestamps")
	return cmd
}

func process(ctx context.Context, out io.Writer, configPath, id, file string, asJSON, timestamps bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("recording %q: %w", file, err)
	}
	slog.SetDefault(newLogger(app.SlogLevel(cfg.Server.LogLevel)))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	application, err := app.New(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		application.Shutdown(shutdownCtx)
	}()

	rep, err := application.Pipeline().Process(ctx, id, file)
	if rep != nil {
		if asJSON {
			if werr := writeReportJSON(out, rep); werr != nil {
				return werr
			}
		} else {
			writeReport(out, rep, timestamps)
		}
	}
	return err
}

type reportJSON struct {
	RecordingID string   `json:"recording_id"`
	Status      string   `json:"status"`
	Reason      string   `json:"reason,omitempty"`
	Actions     []string `json:"actions,omitempty"`
	Chunks      int      `json:"chunks"`
	Elapsed     string   `json:"elapsed"`
	Transcript  string   `json:"transcript,omitempty"`
	Summary     any      `json:"summary,omitempty"`
}

func writeReportJSON(w io.Writer, rep *pipeline.Report) error {
	out := reportJSON{
		RecordingID: rep.RecordingID,
		Status:      rep.Status.String(),
		Reason:      rep.Reason,
		Chunks:      rep.Chunks,
		Elapsed:     rep.Elapsed.Round(time.Millisecond).String(),
	}
	for _, a := range rep.Actions {
		out.Actions = append(out.Actions, a.String())
	}
	if rep.Transcript != nil {
		out.Transcript = rep.Transcript.Text()
	}
	if rep.Summary != nil && rep.Summary.Summary != nil {
		out.Summary = rep.Summary.Summary
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeReport(w io.Writer, rep *pipeline.Report, timestamps bool) {
	fmt.Fprintf(w, "Recording: %s\n", rep.RecordingID)
	fmt.Fprintf(w, "Status:    %s (%d chunks, %s)\n", rep.Status, rep.Chunks, rep.Elapsed.Round(time.Millisecond))
	if rep.Reason != "" {
		fmt.Fprintf(w, "Reason:    %s\n", rep.Reason)
	}
	if len(rep.Actions) > 0 {
		names := make([]string, len(rep.Actions))
		for i, a := range rep.Actions {
			names[i] = a.String()
		}
		fmt.Fprintf(w, "Options:   %s\n", strings.Join(names, ", "))
	}

	if rep.Summary != nil && rep.Summary.Summary != nil {
		s := rep.Summary.Summary
		fmt.Fprintf(w, "\n── Summary (%s, %s) ──\n", s.Engine, s.ContentType)
		if len(s.Titles) > 0 {
			fmt.Fprintf(w, "Title: %s\n\n", s.Titles[0])
		}
		fmt.Fprintln(w, s.Text)
		if len(s.Tasks) > 0 {
			fmt.Fprintln(w, "\nTasks:")
			for _, t := range s.Tasks {
				line := "  - " + t.Text
				if t.Owner != "" {
					line += " (" + t.Owner + ")"
				}
				if t.Due != "" {
					line += " due " + t.Due
				}
				fmt.Fprintln(w, line)
			}
		}
		if len(s.Reminders) > 0 {
			fmt.Fprintln(w, "\nReminders:")
			for _, r := range s.Reminders {
				if r.When != "" {
					fmt.Fprintf(w, "  - %s (%s)\n", r.Text, r.When)
				} else {
					fmt.Fprintf(w, "  - %s\n", r.Text)
				}
			}
		}
	}

	if rep.Transcript != nil {
		fmt.Fprintln(w, "\n── Transcript ──")
		if timestamps {
			fmt.Fprintln(w, rep.Transcript.Timestamped())
		} else {
			fmt.Fprintln(w, rep.Transcript.Text())
		}
	}
}
