package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"paperflow/internal/handlers"
	"paperflow/internal/jobs"
	"paperflow/internal/logging"
	"paperflow/internal/pipeline"
	"paperflow/internal/preflight"
	"paperflow/internal/queue"
	"paperflow/internal/services"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queued jobs",
	}
	workerCmd.AddCommand(newWorkerRunCommand(ctx))
	return workerCmd
}

func newWorkerRunCommand(ctx *commandContext) *cobra.Command {
	var maxJobs int
	var every string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a bounded batch of queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if failed := preflight.Failed(preflight.CheckDirectories(cfg)); len(failed) > 0 {
				return fmt.Errorf("%s: %s", failed[0].Name, failed[0].Detail)
			}
			if strings.TrimSpace(every) == "" {
				every = cfg.Worker.Schedule
			}
			registry, err := handlers.NewRegistry()
			if err != nil {
				return err
			}
			logger := ctx.logger()
			return ctx.withStores(cmd, func(s *stores) error {
				worker, err := jobs.New(cfg, s.jobs, registry.Supported,
					jobs.WithLogger(logger),
					jobs.WithConfigPath(ctx.explicitConfigPath()),
				)
				if err != nil {
					return err
				}
				if strings.TrimSpace(every) != "" {
					return worker.RunEvery(cmd.Context(), every, maxJobs)
				}
				summary, err := worker.RunBatch(cmd.Context(), maxJobs)
				if errors.Is(err, jobs.ErrWorkerBusy) {
					fmt.Fprintln(cmd.OutOrStdout(), "Another worker holds the lock; nothing to do")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d job(s): %d succeeded, %d failed, %d reaped\n",
					summary.Claimed, summary.Succeeded, summary.Failed, summary.Reaped)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "Maximum jobs per batch (default from config)")
	cmd.Flags().StringVar(&every, "every", "", "Cron schedule for recurring batches, e.g. \"@every 1m\"")
	return cmd
}

// handleFailure is the result stored for a job whose handler failed.
type handleFailure struct {
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
}

func newHandleCommand(ctx *commandContext) *cobra.Command {
	var kindFlag string
	var payloadPath string
	var jobID int64

	cmd := &cobra.Command{
		Use:    "handle",
		Short:  "Run one job in this process (launched by the worker)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := queue.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			var raw []byte
			if strings.TrimSpace(payloadPath) != "" {
				raw, err = os.ReadFile(payloadPath)
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry, err := handlers.NewRegistry()
			if err != nil {
				return err
			}

			runCtx := services.WithRequestID(cmd.Context(), uuid.NewString())
			if jobID > 0 {
				runCtx = services.WithJobID(runCtx, jobID)
			}
			logger := logging.WithContext(runCtx, ctx.logger()).With(logging.String(logging.FieldJobKind, string(kind)))

			return ctx.withStores(cmd, func(s *stores) error {
				p := pipeline.New(cfg, s.items, s.events,
					pipeline.NewServices(cfg, logger, cmd.OutOrStdout()),
					pipeline.WithLogger(logger),
				)
				result, runErr := registry.Execute(runCtx, handlers.Env{Config: cfg, Pipeline: p}, kind, raw)
				if runErr != nil {
					logger.Error("job handler failed",
						logging.String(logging.FieldEventType, "job_handler_failed"),
						logging.Error(runErr),
					)
					result, err = json.Marshal(handleFailure{Error: runErr.Error(), ErrorKind: services.Kind(runErr)})
					if err != nil {
						return err
					}
				}
				if jobID > 0 {
					if err := s.jobs.SetResult(runCtx, jobID, result); err != nil {
						logger.Warn("store job result failed", logging.Error(err))
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(result))
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "", "Job kind")
	cmd.Flags().StringVar(&payloadPath, "payload", "", "Path to the JSON payload file")
	cmd.Flags().Int64Var(&jobID, "job-id", 0, "Job id receiving the result")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
