package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"paperflow/internal/preflight"
)

type doctorSection struct {
	title   string
	results []preflight.Result
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, binaries, and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			sections := []doctorSection{
				{"Directories", preflight.CheckDirectories(cfg)},
				{"Binaries", preflight.CheckBinaries(cfg)},
				{"Credentials", preflight.CheckCredentials(cfg)},
			}
			if !offline && len(cfg.LLM.APIKeys) > 0 {
				sections = append(sections, doctorSection{"Endpoints", []preflight.Result{preflight.CheckLLM(cmd.Context(), cfg.LLM)}})
			}

			var all []preflight.Result
			for i, section := range sections {
				if i > 0 {
					fmt.Fprintln(out)
				}
				for _, line := range renderSectionHeader(section.title, colorize) {
					fmt.Fprintln(out, line)
				}
				for _, r := range section.results {
					fmt.Fprintln(out, renderStatusLine(r.Name, resultKind(r), r.Detail, colorize))
				}
				all = append(all, section.results...)
			}

			if failed := preflight.Failed(all); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip network checks")
	return cmd
}
