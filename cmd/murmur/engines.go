package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/store"
)

func newEnginesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "List summarisation engines and their availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngines(cmd.Context(), *configPath, func(reg *engine.Registry) error {
				printEngines(cmd.OutOrStdout(), reg)
				return nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "select <name>",
		Short: "Persist the engine used for new summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngines(cmd.Context(), *configPath, func(reg *engine.Registry) error {
				if err := reg.SetCurrent(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "selected %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

// withEngines builds the configured engine registry over the configured
// store, restores the persisted selection and hands it to fn.
func withEngines(ctx context.Context, configPath string, fn func(*engine.Registry) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	providers := config.NewRegistry()
	registerBuiltinProviders(providers)

	engines, err := app.BuildEngines(cfg, providers)
	if err != nil {
		return err
	}
	s, closeStore, err := store.Open(ctx, string(cfg.Store.Driver), cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer closeStore()

	reg, err := engine.NewRegistry(engines, engine.WithStore(s))
	if err != nil {
		return err
	}
	if _, err := reg.Restore(ctx); err != nil {
		return err
	}
	return fn(reg)
}

func printEngines(w io.Writer, reg *engine.Registry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tKIND\tVERSION\tSTATUS")
	current := reg.CurrentName()
	for _, d := range reg.Descriptors() {
		marker := ""
		if d.Name == current {
			marker = "*"
		}
		status := "available"
		switch {
		case d.ComingSoon:
			status = "coming soon"
		case !d.Available:
			status = "unavailable: " + strings.Join(d.Requirements, "; ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, d.Name, d.Kind, d.Version, status)
	}
	tw.Flush()
}
