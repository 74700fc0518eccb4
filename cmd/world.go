package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/internal/config"
	"github.com/xkilldash9x/wayfarer/internal/observability"
	"github.com/xkilldash9x/wayfarer/internal/worldgraph"
)

func newWorldCmd() *cobra.Command {
	worldCmd := &cobra.Command{
		Use:   "world",
		Short: "Manage the stored world graph",
	}

	worldCmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Replace the database world graph with the contents of a YAML world file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			g, err := worldgraph.LoadYAMLFile(args[0], logger)
			if err != nil {
				return err
			}

			components, err := newComponents(ctx, config.Get(), componentOptions{RequireStore: true, SkipGraph: true})
			if err != nil {
				return err
			}
			defer components.Shutdown()

			if err := components.Store.SaveGraph(ctx, g); err != nil {
				return err
			}
			logger.Info("World imported.", zap.String("file", args[0]))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d nodes and %d edges\n", g.NodeCount(), g.EdgeCount())
			return nil
		},
	})
	return worldCmd
}
