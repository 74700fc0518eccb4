package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
	"github.com/xkilldash9x/wayfarer/internal/engine"
	"github.com/xkilldash9x/wayfarer/internal/observability"
	"github.com/xkilldash9x/wayfarer/internal/worldgraph"
)

func newRouteCmd() *cobra.Command {
	var from, to string

	routeCmd := &cobra.Command{
		Use:   "route --from X,Y --to X,Y",
		Short: "Print the cheapest route between two coordinates without moving",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := schemas.ParseCoordinate(from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			dst, err := schemas.ParseCoordinate(to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			ctx := cmd.Context()
			components, err := newComponents(ctx, config.Get(), componentOptions{})
			if err != nil {
				return err
			}
			defer components.Shutdown()

			nav := engine.New(components.Graph, nil, engine.Options{}, observability.GetLogger())
			path, ok, err := nav.PlanFrom(src, dst)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no route from %s to %s", src, dst)
			}
			return printRoute(cmd.OutOrStdout(), path)
		},
	}

	routeCmd.Flags().StringVar(&from, "from", "", "start coordinate as X,Y")
	routeCmd.Flags().StringVar(&to, "to", "", "destination coordinate as X,Y")
	_ = routeCmd.MarkFlagRequired("from")
	_ = routeCmd.MarkFlagRequired("to")
	return routeCmd
}

func printRoute(out io.Writer, path worldgraph.Path) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tKIND\tFROM\tTO\tCOST")
	for i, e := range path.Edges {
		kind, err := e.Kind()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%g\n", i+1, kind, e.From.Coordinate, e.To.Coordinate, e.Cost)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d edges, total cost %g\n", path.Len(), path.Cost())
	return err
}
