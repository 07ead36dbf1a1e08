package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	jobdomain "github.com/smallbiznis/stocktake/internal/ocrrerun/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and drive OCR rerun jobs",
	}
	cmd.AddCommand(newJobsListCommand())
	cmd.AddCommand(newJobsRunCommand())
	cmd.AddCommand(newJobsCancelCommand())
	return cmd
}

func newJobsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <session-id>",
		Short: "List a session's rerun jobs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := sessiondomain.ParseID(args[0])
			if err != nil {
				return err
			}

			var svc jobdomain.Service
			return runOnce(cmd.Context(), fx.Options(domain(), fx.Populate(&svc)), func(ctx context.Context) error {
				jobs, err := svc.ListJobs(ctx, sessionID)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No rerun jobs")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, jobRow(job))
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(jobHeaders, rows, 3, 4, 5))
				return nil
			})
		},
	}
}

// jobs run processes one job in the foreground; useful when no worker is deployed.
func newJobsRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a queued or interrupted job to the end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := jobdomain.ParseID(args[0])
			if err != nil {
				return err
			}

			var svc jobdomain.Service
			return runOnce(cmd.Context(), fx.Options(domain(), fx.Populate(&svc)), func(ctx context.Context) error {
				job, runErr := svc.RunJob(ctx, jobID)
				if job != nil {
					fmt.Fprintln(cmd.OutOrStdout(), renderTable(jobHeaders, [][]string{jobRow(*job)}, 3, 4, 5))
				}
				return runErr
			})
		},
	}
}

func newJobsCancelCommand() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := jobdomain.ParseID(args[0])
			if err != nil {
				return err
			}

			var svc jobdomain.Service
			return runOnce(cmd.Context(), fx.Options(domain(), fx.Populate(&svc)), func(ctx context.Context) error {
				job, err := svc.CancelJob(ctx, jobID, actor)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(jobHeaders, [][]string{jobRow(*job)}, 3, 4, 5))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "cli", "Actor recorded in the audit log")
	return cmd
}

var jobHeaders = []string{"Job", "Status", "Progress", "Succeeded", "Failed", "Updated"}

func jobRow(job jobdomain.Job) []string {
	p := job.Progress()
	return []string{
		job.ID.String(),
		string(job.Status),
		fmt.Sprintf("%d/%d", p.Current, p.Total),
		strconv.Itoa(p.SuccessCount),
		strconv.Itoa(p.FailureCount),
		job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
