package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
	"github.com/xkilldash9x/wayfarer/internal/engine"
	"github.com/xkilldash9x/wayfarer/internal/observability"
)

func newWalkCmd() *cobra.Command {
	var (
		to      string
		timeout time.Duration
	)

	walkCmd := &cobra.Command{
		Use:   "walk --to X,Y",
		Short: "Open a browser session and walk the agent to a coordinate",
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := schemas.ParseCoordinate(to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			ctx := cmd.Context()
			cfg := config.Get()
			logger := observability.GetLogger()

			components, err := newComponents(ctx, cfg, componentOptions{Browser: true})
			if err != nil {
				return err
			}
			defer components.Shutdown()

			session, err := components.Browser.NewSession(ctx)
			if err != nil {
				return err
			}

			opts := engine.Options{SessionID: session.ID(), Movement: cfg.Movement}
			if components.Store != nil {
				opts.Journal = components.Store
			}
			nav := engine.New(components.Graph, session, opts, logger)
			return walk(ctx, nav, dest, timeout, cmd.OutOrStdout())
		},
	}

	walkCmd.Flags().StringVar(&to, "to", "", "destination coordinate as X,Y")
	walkCmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits indefinitely)")
	_ = walkCmd.MarkFlagRequired("to")
	return walkCmd
}

// walk moves to dest and reports the outcome. The task stops when ctx ends
// or the timeout elapses.
func walk(ctx context.Context, nav *engine.Navigator, dest schemas.Coordinate, timeout time.Duration, out io.Writer) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	task, err := nav.MoveTo(ctx, dest)
	if err != nil {
		return err
	}
	if task.IsNoop() {
		return fmt.Errorf("no route to %s", dest)
	}

	<-task.Done()
	nav.Wait()

	path := task.Path()
	if err := task.Err(); err != nil {
		fmt.Fprintf(out, "stopped after %d of %d edges: %v\n", task.EdgesCompleted(), path.Len(), err)
		return err
	}
	fmt.Fprintf(out, "arrived at %s after %d edges (cost %g)\n", dest, path.Len(), path.Cost())
	return nil
}
