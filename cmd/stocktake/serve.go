package main

import (
	"github.com/smallbiznis/stocktake/internal/ocrrerun/worker"
	"github.com/smallbiznis/stocktake/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCommand() *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{domain(), server.Module}
			if withWorker {
				opts = append(opts, worker.Module)
			}
			fx.New(opts...).Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withWorker, "with-worker", true, "Also run the OCR rerun worker in this process")
	return cmd
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the OCR rerun worker only",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(domain(), worker.Module).Run()
			return nil
		},
	}
}
