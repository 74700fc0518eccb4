package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
)

// runLister is the journal query behind the runs command.
type runLister interface {
	RecentRuns(ctx context.Context, limit int) ([]schemas.MovementRun, error)
}

func newRunsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent movement runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			components, err := newComponents(ctx, config.Get(), componentOptions{RequireStore: true, SkipGraph: true})
			if err != nil {
				return err
			}
			defer components.Shutdown()
			return listRuns(ctx, components.Store, limit, asJSON, cmd.OutOrStdout())
		},
	}

	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	runsCmd.Flags().BoolVar(&asJSON, "json", false, "print runs as JSON")
	return runsCmd
}

func listRuns(ctx context.Context, lister runLister, limit int, asJSON bool, out io.Writer) error {
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}
	runs, err := lister.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if runs == nil {
			runs = []schemas.MovementRun{}
		}
		return enc.Encode(runs)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tFROM\tTO\tEDGES\tSTATUS\tDURATION\tREASON")
	for _, r := range runs {
		duration := "-"
		if d := r.Duration(); d > 0 {
			duration = d.Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Source, r.Destination,
			r.EdgesCompleted, r.Edges, r.Status, duration, r.Reason)
	}
	return w.Flush()
}
