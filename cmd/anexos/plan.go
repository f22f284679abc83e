package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiss-anexos/intake/internal/batch"
	"github.com/tiss-anexos/intake/internal/intake"
	"github.com/tiss-anexos/intake/internal/loader"
	"github.com/tiss-anexos/intake/internal/report"
)

func newPlanCommand() *cobra.Command {
	var flags pipelineFlags

	cmd := &cobra.Command{
		Use:   "plan [files...]",
		Short: "Print the batch plan for the given PDFs without sending anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			selection := intake.NewSelection(nil)
			added, err := selectPaths(selection, args)
			if err != nil {
				return err
			}
			for _, r := range added.Rejected {
				fmt.Fprintf(out, "skipped %s (%s)\n", r.Name, r.Reason)
			}

			set, err := loader.Load(cmd.Context(), selection.PDF(), loader.PathSource{}, loader.Options{})
			if err != nil {
				return err
			}
			for _, name := range set.Unreadable {
				fmt.Fprintf(out, "unreadable: %s\n", name)
			}

			settings := batch.Options{
				MaxSingleSize: cfg.MaxSingleSize(),
				GroupSize:     cfg.Batching.GroupSize,
				Order:         batch.Order(cfg.Batching.Order),
			}
			batches := batch.Plan(set.PDF, settings)

			fmt.Fprintln(out, batch.Describe(batches))
			for _, b := range batches {
				label := "group"
				if b.Large {
					label = "large"
				}
				fmt.Fprintf(out, "Batch %d (%s)\n", b.Index+1, label)
				for _, item := range b.Items {
					fmt.Fprintf(out, "  %s  ~%s\n", item.Name, report.FormatFileSize(item.EstimatedSize()))
				}
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
