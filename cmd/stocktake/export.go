package main

import (
	"context"
	"io"
	"os"

	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/internal/export"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session's rolls",
	}
	cmd.AddCommand(newExportCSVCommand())
	cmd.AddCommand(newExportReportCommand())
	return cmd
}

func newExportCSVCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "csv <session-id>",
		Short: "Write the session's rolls as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := sessiondomain.ParseID(args[0])
			if err != nil {
				return err
			}

			var exporter *export.Service
			return runOnce(cmd.Context(), fx.Options(domain(), fx.Populate(&exporter)), func(ctx context.Context) error {
				return withOutput(cmd, output, func(w io.Writer) error {
					return exporter.WriteCSV(ctx, sessionID, w)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func newExportReportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Render the reconciliation report as PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := sessiondomain.ParseID(args[0])
			if err != nil {
				return err
			}

			var exporter *export.Service
			return runOnce(cmd.Context(), fx.Options(domain(), fx.Populate(&exporter)), func(ctx context.Context) error {
				report, err := exporter.Report(ctx, sessionID)
				if err != nil {
					return err
				}
				return withOutput(cmd, output, func(w io.Writer) error {
					_, err := io.Copy(w, report)
					return err
				})
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "report.pdf", "Output file")
	return cmd
}

func withOutput(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
