package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/latencyguard/internal/store"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Append observations from a collector CSV file to the sample store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			st, err := store.Open(cfg.Store.Path, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := st.ImportCSV(contextOf(cmd), f)
			if err != nil {
				return err
			}
			logger.Info("import complete",
				slog.String("file", args[0]),
				slog.Int("imported", res.Imported),
				slog.Int("skipped", res.Skipped),
			)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.csv>",
		Short: "Write the latest labeled output to a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cfg.Store.Path, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			n, err := st.ExportCSV(contextOf(cmd), f)
			if cerr := f.Close(); err == nil && cerr != nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("export %s: %w", args[0], err)
			}
			logger.Info("export complete", slog.String("file", args[0]), slog.Int("records", n))
			return nil
		},
	}
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
