package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"paperflow/internal/handlers"
	"paperflow/internal/queue"
	"paperflow/internal/textutil"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage the job queue",
	}

	jobsCmd.AddCommand(newJobsEnqueueCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsLogCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsStatsCommand(ctx))

	return jobsCmd
}

type enqueueFlags struct {
	payload     string
	day         string
	ids         string
	all         bool
	lang        string
	maxItems    int
	perItem     int
	concurrency int
}

// build returns the raw payload, either verbatim from --payload or assembled
// from the convenience flags.
func (f enqueueFlags) build() (json.RawMessage, error) {
	if raw := strings.TrimSpace(f.payload); raw != "" {
		if f.day != "" || f.ids != "" || f.all || f.lang != "" || f.maxItems > 0 || f.perItem > 0 || f.concurrency > 0 {
			return nil, errors.New("--payload cannot be combined with payload flags")
		}
		return json.RawMessage(raw), nil
	}
	payload := map[string]any{}
	if f.day != "" {
		payload["day"] = f.day
	}
	if ids := textutil.SplitList(f.ids); len(ids) > 0 {
		payload["external_ids"] = ids
	}
	if f.all {
		payload["scope"] = "all"
	}
	if f.lang != "" {
		payload["lang"] = f.lang
	}
	if f.maxItems > 0 {
		payload["max_items"] = f.maxItems
	}
	if f.perItem > 0 {
		payload["per_item"] = f.perItem
	}
	if f.concurrency > 0 {
		payload["concurrency"] = f.concurrency
	}
	return json.Marshal(payload)
}

func newJobsEnqueueCommand(ctx *commandContext) *cobra.Command {
	var flags enqueueFlags

	cmd := &cobra.Command{
		Use:   "enqueue <kind>",
		Short: "Queue a job after validating its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := queue.ParseKind(args[0])
			if err != nil {
				return err
			}
			raw, err := flags.build()
			if err != nil {
				return err
			}
			registry, err := handlers.NewRegistry()
			if err != nil {
				return err
			}
			if _, err := registry.Decode(kind, raw); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			}
			return ctx.withStores(cmd, func(s *stores) error {
				job, err := s.jobs.Enqueue(cmd.Context(), kind, raw)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d (%s)\n", job.ID, job.Kind)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.payload, "payload", "", "Raw JSON payload")
	cmd.Flags().StringVar(&flags.day, "day", "", "Scope to a day (YYYY-MM-DD or latest)")
	cmd.Flags().StringVar(&flags.ids, "ids", "", "Comma separated external ids")
	cmd.Flags().BoolVar(&flags.all, "all", false, "Scope to every item")
	cmd.Flags().StringVar(&flags.lang, "lang", "", "Language (zh, en, or both)")
	cmd.Flags().IntVar(&flags.maxItems, "max-items", 0, "Cap on items processed")
	cmd.Flags().IntVar(&flags.perItem, "per-item", 0, "Per-item task quota")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Concurrent tasks")
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var kinds []string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.Filter{Limit: limit}
			for _, raw := range statuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			for _, raw := range kinds {
				kind, err := queue.ParseKind(raw)
				if err != nil {
					return err
				}
				filter.Kinds = append(filter.Kinds, kind)
			}
			return ctx.withStores(cmd, func(s *stores) error {
				jobs, err := s.jobs.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					views := make([]jobView, 0, len(jobs))
					for _, job := range jobs {
						views = append(views, newJobView(job))
					}
					return writeJSON(cmd, views)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]column{numCol("ID"), col("Kind"), col("Status"), col("Created"), numCol("Duration"), col("Error")},
					buildJobRows(jobs, time.Now()),
					nil,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "Filter by kind (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum jobs to list (1-200)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func buildJobRows(jobs []*queue.Job, now time.Time) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			string(job.Kind),
			string(job.Status),
			relativeTime(job.CreatedAt),
			formatDuration(job.Duration(now)),
			oneLine(job.Error, 60),
		})
	}
	return rows
}

// jobView is the JSON shape of a job.
type jobView struct {
	ID         int64           `json:"id"`
	Kind       queue.Kind      `json:"kind"`
	Status     queue.Status    `json:"status"`
	Payload    json.RawMessage `json:"payload"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
	LogPath    string          `json:"log_path,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

func newJobView(job *queue.Job) jobView {
	v := jobView{
		ID:        job.ID,
		Kind:      job.Kind,
		Status:    job.Status,
		Payload:   rawOrNull(job.Payload),
		Result:    rawOrNull(job.Result),
		Error:     job.Error,
		LogPath:   job.LogPath,
		CreatedAt: job.CreatedAt,
	}
	if !job.StartedAt.IsZero() {
		v.StartedAt = &job.StartedAt
	}
	if !job.FinishedAt.IsZero() {
		v.FinishedAt = &job.FinishedAt
	}
	return v
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(cmd, func(s *stores) error {
				job, err := s.jobs.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, newJobView(job))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %d\n", job.ID)
				fmt.Fprintf(out, "  Kind:     %s\n", job.Kind)
				fmt.Fprintf(out, "  Status:   %s\n", job.Status)
				fmt.Fprintf(out, "  Created:  %s (%s)\n", job.CreatedAt.Format(time.RFC3339), relativeTime(job.CreatedAt))
				fmt.Fprintf(out, "  Duration: %s\n", formatDuration(job.Duration(time.Now())))
				fmt.Fprintf(out, "  Payload:  %s\n", string(rawOrNull(job.Payload)))
				if len(job.Result) > 0 {
					fmt.Fprintf(out, "  Result:   %s\n", string(job.Result))
				}
				if job.Error != "" {
					fmt.Fprintf(out, "  Error:    %s\n", job.Error)
				}
				if job.LogPath != "" {
					fmt.Fprintf(out, "  Log:      %s\n", job.LogPath)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newJobsLogCommand(ctx *commandContext) *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Print the tail of a job log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(cmd, func(s *stores) error {
				job, err := s.jobs.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				text, err := queue.TailLog(job, lines)
				if err != nil {
					return fmt.Errorf("read job log: %w", err)
				}
				if text == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "No log output for job %d\n", id)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 200, "Lines to show (20-2000)")
	return cmd
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(cmd, func(s *stores) error {
				if err := s.jobs.Cancel(cmd.Context(), id); err != nil {
					if errors.Is(err, queue.ErrNotQueued) {
						return fmt.Errorf("job %d is not queued; only queued jobs can be canceled", id)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Canceled job %d\n", id)
				return nil
			})
		},
	}
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(cmd, func(s *stores) error {
				stats, err := s.jobs.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				total := 0
				for _, n := range stats {
					total += n
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]column{col("Status"), numCol("Count")},
					rows,
					[]string{"total", strconv.Itoa(total)},
				))
				return nil
			})
		},
	}
}

var statusOrder = []queue.Status{
	queue.StatusQueued,
	queue.StatusRunning,
	queue.StatusSuccess,
	queue.StatusFailed,
	queue.StatusCanceled,
}

func buildStatusRows(stats map[queue.Status]int) [][]string {
	var rows [][]string
	for _, status := range statusOrder {
		if n := stats[status]; n > 0 {
			rows = append(rows, []string{string(status), strconv.Itoa(n)})
		}
	}
	return rows
}
