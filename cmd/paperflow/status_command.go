package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"paperflow/internal/events"
	"paperflow/internal/items"
	"paperflow/internal/pipeline"
	"paperflow/internal/queue"
)

type stageStatusView struct {
	Stage   string `json:"stage"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	Started int    `json:"started"`
}

type failureView struct {
	ExternalID string    `json:"external_id"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error,omitempty"`
	LogPath    string    `json:"log_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type statusSnapshot struct {
	Source     string               `json:"source"`
	LatestDay  string               `json:"latest_day,omitempty"`
	Items      int                  `json:"items"`
	Coverage   map[string]int       `json:"coverage"`
	Stages     []stageStatusView    `json:"stages"`
	Failures   []failureView        `json:"recent_failures"`
	Jobs       map[queue.Status]int `json:"jobs"`
	fieldOrder []items.Field        `json:"-"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline coverage, per-stage outcomes, recent failures and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStores(cmd, func(s *stores) error {
				snap, err := buildStatusSnapshot(cmd, s, cfg.Pipeline.Source, cfg.Pipeline.Languages, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, snap)
				}
				renderStatusSnapshot(cmd, snap)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of recent failures to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func buildStatusSnapshot(cmd *cobra.Command, s *stores, source string, langs []string, limit int) (*statusSnapshot, error) {
	c := cmd.Context()
	snap := &statusSnapshot{Source: source, Coverage: map[string]int{}}

	day, err := s.items.LatestDay(c, source)
	if err != nil {
		return nil, err
	}
	snap.LatestDay = day
	if snap.Items, err = s.items.Count(c, ""); err != nil {
		return nil, err
	}

	snap.fieldOrder = []items.Field{items.FieldPDFPath, items.FieldRawTextPath}
	for _, lang := range langs {
		snap.fieldOrder = append(snap.fieldOrder,
			items.FieldOneLiner(lang), items.FieldAnalysis(lang), items.FieldCaptions(lang), items.FieldPackage(lang))
	}
	coverage, err := s.items.Coverage(c, source, snap.fieldOrder...)
	if err != nil {
		return nil, err
	}
	for f, n := range coverage {
		snap.Coverage[string(f)] = n
	}

	for _, stage := range pipeline.EventStages(langs) {
		counts, err := s.events.StageSummary(c, stage)
		if err != nil {
			return nil, err
		}
		snap.Stages = append(snap.Stages, stageStatusView{
			Stage:   stage,
			Success: counts[events.StatusSuccess],
			Failed:  counts[events.StatusFailed],
			Skipped: counts[events.StatusSkipped],
			Started: counts[events.StatusStarted],
		})
	}

	failures, err := s.events.RecentFailures(c, limit)
	if err != nil {
		return nil, err
	}
	snap.Failures = make([]failureView, 0, len(failures))
	for _, f := range failures {
		snap.Failures = append(snap.Failures, failureView{
			ExternalID: f.ExternalID,
			Stage:      f.Stage,
			Error:      f.Error,
			LogPath:    f.LogPath,
			CreatedAt:  f.CreatedAt,
		})
	}

	if snap.Jobs, err = s.jobs.Stats(c); err != nil {
		return nil, err
	}
	return snap, nil
}

func renderStatusSnapshot(cmd *cobra.Command, snap *statusSnapshot) {
	out := cmd.OutOrStdout()
	latest := snap.LatestDay
	if latest == "" {
		latest = "-"
	}
	fmt.Fprintf(out, "Source %s  latest day %s  items %d\n\n", snap.Source, latest, snap.Items)

	coverage := make([][]string, 0, len(snap.fieldOrder))
	for _, f := range snap.fieldOrder {
		coverage = append(coverage, []string{string(f), strconv.Itoa(snap.Coverage[string(f)])})
	}
	fmt.Fprint(out, renderTable([]column{col("Field"), numCol("Items")}, coverage, nil))

	stages := make([][]string, 0, len(snap.Stages))
	for _, st := range snap.Stages {
		stages = append(stages, []string{st.Stage, strconv.Itoa(st.Success), strconv.Itoa(st.Failed),
			strconv.Itoa(st.Skipped), strconv.Itoa(st.Started)})
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, renderTable(
		[]column{col("Stage"), numCol("Success"), numCol("Failed"), numCol("Skipped"), numCol("Running")},
		stages, nil))

	fmt.Fprintln(out)
	if len(snap.Failures) == 0 {
		fmt.Fprintln(out, "No recent failures")
	} else {
		rows := make([][]string, 0, len(snap.Failures))
		for _, f := range snap.Failures {
			rows = append(rows, []string{f.ExternalID, f.Stage, relativeTime(f.CreatedAt), oneLine(f.Error, 60)})
		}
		fmt.Fprint(out, renderTable(
			[]column{col("Item"), col("Stage"), col("When"), wrapCol("Error", 60)}, rows, nil))
	}

	fmt.Fprintln(out)
	if jobs := buildStatusRows(snap.Jobs); len(jobs) > 0 {
		fmt.Fprint(out, renderTable([]column{col("Job status"), numCol("Count")}, jobs, nil))
	} else {
		fmt.Fprintln(out, "Queue is empty")
	}
}
