package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"paperflow/internal/events"
	"paperflow/internal/items"
	"paperflow/internal/pipeline"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	itemsCmd := &cobra.Command{
		Use:   "items",
		Short: "Register and inspect content items",
	}

	itemsCmd.AddCommand(newItemsImportCommand(ctx))
	itemsCmd.AddCommand(newItemsAddCommand(ctx))
	itemsCmd.AddCommand(newItemsStatusCommand(ctx))
	itemsCmd.AddCommand(newItemsEventsCommand(ctx))

	return itemsCmd
}

func newItemsImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Register items from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			var entries []items.NewItem
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("decode import file: %w", err)
			}
			return ctx.withStores(cmd, func(s *stores) error {
				var created, updated int
				for _, entry := range entries {
					if strings.TrimSpace(entry.Source) == "" {
						entry.Source = cfg.Pipeline.Source
					}
					_, isNew, err := s.items.Upsert(cmd.Context(), entry)
					if err != nil {
						return err
					}
					if isNew {
						created++
					} else {
						updated++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d item(s): %d new, %d updated\n", len(entries), created, updated)
				return nil
			})
		},
	}
}

func newItemsAddCommand(ctx *commandContext) *cobra.Command {
	var entry items.NewItem

	cmd := &cobra.Command{
		Use:   "add <external-id>",
		Short: "Register one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			entry.ExternalID = args[0]
			if strings.TrimSpace(entry.Source) == "" {
				entry.Source = cfg.Pipeline.Source
			}
			return ctx.withStores(cmd, func(s *stores) error {
				it, isNew, err := s.items.Upsert(cmd.Context(), entry)
				if err != nil {
					return err
				}
				verb := "Updated"
				if isNew {
					verb = "Added"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s item %d (%s)\n", verb, it.ID, it.Label())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&entry.Source, "source", "", "Item source (default from config)")
	cmd.Flags().StringVar(&entry.Day, "day", "", "Publication day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&entry.Title, "title", "", "Title")
	cmd.Flags().StringVar(&entry.PDFURL, "pdf-url", "", "Source PDF URL")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

func (c *commandContext) lookupItem(cmd *cobra.Command, s *stores, source, externalID string) (*items.Item, error) {
	if strings.TrimSpace(source) == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		source = cfg.Pipeline.Source
	}
	it, err := s.items.GetByExternalID(cmd.Context(), source, externalID)
	if errors.Is(err, items.ErrNotFound) {
		return nil, fmt.Errorf("no item %q in source %q", externalID, source)
	}
	return it, err
}

func newItemsStatusCommand(ctx *commandContext) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "status <external-id>",
		Short: "Show the latest event per stage for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStores(cmd, func(s *stores) error {
				it, err := ctx.lookupItem(cmd, s, source, args[0])
				if err != nil {
					return err
				}
				latest, err := s.events.LatestByStage(cmd.Context(), it.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  day=%s  %s\n", it.Label(), it.Day, it.Title)
				fmt.Fprint(out, renderTable(
					[]column{col("Stage"), col("Status"), col("When"), wrapCol("Detail", 60)},
					buildStageRows(pipeline.EventStages(cfg.Pipeline.Languages), latest),
					nil,
				))
				for _, lang := range cfg.Pipeline.Languages {
					if path := it.Value(items.FieldPackage(lang)); path != "" {
						fmt.Fprintf(out, "Package (%s): %s %s\n", lang, path, fileSize(path))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Item source (default from config)")
	return cmd
}

// buildStageRows lists the chain's event stages in order, then any other
// stage with history (pdf_repair, parse_ocr_fix).
func buildStageRows(order []string, latest map[string]*events.Event) [][]string {
	rows := make([][]string, 0, len(latest))
	row := func(stage string, ev *events.Event) []string {
		if ev == nil {
			return []string{stage, "-", "-", "-"}
		}
		return []string{stage, string(ev.Status), relativeTime(ev.CreatedAt), oneLine(ev.Error, 60)}
	}
	for _, stage := range order {
		rows = append(rows, row(stage, latest[stage]))
	}
	var extra []string
	for stage := range latest {
		if !slices.Contains(order, stage) {
			extra = append(extra, stage)
		}
	}
	slices.Sort(extra)
	for _, stage := range extra {
		rows = append(rows, row(stage, latest[stage]))
	}
	return rows
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "(missing)"
	}
	return "(" + humanize.Bytes(uint64(info.Size())) + ")"
}

func newItemsEventsCommand(ctx *commandContext) *cobra.Command {
	var source string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "events <external-id>",
		Short: "List an item's events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(cmd, func(s *stores) error {
				it, err := ctx.lookupItem(cmd, s, source, args[0])
				if err != nil {
					return err
				}
				evs, err := s.events.ForItem(cmd.Context(), it.ID, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, evs)
				}
				if len(evs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No events")
					return nil
				}
				rows := make([][]string, 0, len(evs))
				for _, ev := range evs {
					rows = append(rows, []string{
						strconv.FormatInt(ev.ID, 10),
						ev.Stage,
						string(ev.Status),
						relativeTime(ev.CreatedAt),
						oneLine(ev.Error, 60),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]column{numCol("ID"), col("Stage"), col("Status"), col("When"), col("Error")},
					rows,
					nil,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Item source (default from config)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum events to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
