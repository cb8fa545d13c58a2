package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/carbonfact/lea/internal/dag"
	"github.com/carbonfact/lea/internal/progress"
	"github.com/carbonfact/lea/internal/warehouse"
	"github.com/carbonfact/lea/pkg/core"
)

func newTestCmd() *cobra.Command {
	var (
		selects    []string
		production bool
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the project's tests against the current tables",
		Long: `Test runs every selected test query against the live tables of the
target environment, without materialising anything. A test passes when
its query returns zero rows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			graph, err := loadGraph(cfg, logger)
			if err != nil {
				return err
			}
			env, err := environment(cfg, production)
			if err != nil {
				return err
			}

			wh, err := warehouse.New(cfg.Warehouse, logger)
			if err != nil {
				return err
			}
			defer wh.Close()

			var sink progress.Sink = progress.NewTerminal(cmd.OutOrStdout())
			if jsonOut {
				sink = progress.NewJSON(cmd.OutOrStdout())
			}

			active, err := graph.Select(selects, nil, dag.SelectOptions{
				ChangedFiles: gitResolver(cmd.Context(), cfg.Scripts),
			})
			if err != nil {
				return err
			}
			if err := wh.Prepare(cmd.Context(), env); err != nil {
				return err
			}

			started := time.Now()
			var firstErr error
			done, errored := 0, 0
			for _, ref := range graph.TopoSort() {
				if _, ok := active[ref.Key()]; !ok {
					continue
				}
				script := graph.Script(ref)
				if !script.IsTest() {
					continue
				}

				// Tests written against audit tables are pointed at the live
				// tables instead; there is no run in flight.
				deps := map[string]string{}
				for _, d := range script.Dependencies {
					rendered := wh.RenderRef(d, false, env)
					deps[d.String()] = rendered
					deps[d.Audit().String()] = rendered
				}

				start := time.Now()
				rows, err := wh.QueryRows(cmd.Context(), warehouse.RewriteRefs(script.SQL, deps), 10)
				ev := progress.Event{Ref: ref, Phase: progress.PhaseTest, Duration: time.Since(start)}
				switch {
				case err != nil:
					ev.Status, ev.Err = core.StatusErrored, err
				case len(rows) > 0:
					ev.Status = core.StatusErrored
					ev.Err = &core.AssertionFailure{Ref: ref, Sample: rows}
				default:
					ev.Status = core.StatusDone
				}
				if ev.Err != nil {
					errored++
					if firstErr == nil {
						firstErr = ev.Err
					}
				} else {
					done++
				}
				sink.Emit(ev)
			}

			sink.Finish(progress.Summary{
				Environment: env.Name,
				Done:        done,
				Errored:     errored,
				Duration:    time.Since(started),
			})
			return firstErr
		},
	}

	cmd.Flags().StringArrayVarP(&selects, "select", "s", nil, "selection expression, repeatable")
	cmd.Flags().BoolVar(&production, "production", false, "target the production environment")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit line-delimited JSON events")
	return cmd
}
