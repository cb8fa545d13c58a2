package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/carbonfact/lea/internal/dag"
	"github.com/carbonfact/lea/internal/executor"
	"github.com/carbonfact/lea/internal/progress"
	"github.com/carbonfact/lea/internal/state"
	"github.com/carbonfact/lea/internal/warehouse"
	"github.com/carbonfact/lea/pkg/core"
)

func newRunCmd() *cobra.Command {
	var (
		selects           []string
		unselects         []string
		production        bool
		restart           bool
		failFast          bool
		freezeUnselected  bool
		dryRun            bool
		concurrency       int
		scriptsRoot       string
		incrementalField  string
		incrementalValues []string
		timeout           time.Duration
		jsonOut           bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Materialise the project, audit the results, then publish",
		Long: `Run materialises every selected script into an audit table, runs the
tests against the audits, and only when everything passed promotes the
audit tables to their production names.`,
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

			store, err := state.Open(cfg.State)
			if err != nil {
				return err
			}
			defer store.Close()

			var sink progress.Sink = progress.NewTerminal(cmd.OutOrStdout())
			if jsonOut {
				sink = progress.NewJSON(cmd.OutOrStdout())
			}

			sess := &executor.Session{
				Warehouse: wh,
				Store:     store,
				Sink:      sink,
				Logger:    logger,
				Env:       env,
				Config: core.RunConfig{
					ScriptsRoot:       cfg.Scripts,
					Select:            selects,
					Unselect:          unselects,
					Production:        production,
					Restart:           restart,
					FailFast:          failFast,
					FreezeUnselected:  freezeUnselected,
					DryRun:            dryRun,
					Concurrency:       cfg.Concurrency,
					IncrementalField:  incrementalField,
					IncrementalValues: incrementalValues,
					Timeout:           timeout,
				},
			}
			return sess.Run(cmd.Context(), graph, dag.SelectOptions{
				ChangedFiles: gitResolver(cmd.Context(), cfg.Scripts),
			})
		},
	}

	cmd.Flags().StringArrayVarP(&selects, "select", "s", nil, "selection expression, repeatable (+node+, schema/, git, *)")
	cmd.Flags().StringArrayVar(&unselects, "unselect", nil, "subtract from the selection, repeatable")
	cmd.Flags().BoolVar(&production, "production", false, "target the production environment")
	cmd.Flags().BoolVar(&restart, "restart", false, "ignore audit checkpoints and rebuild the selection")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "cancel the run at the first error")
	cmd.Flags().BoolVar(&freezeUnselected, "freeze-unselected", false, "resolve unselected dependencies against production")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without touching the warehouse")
	cmd.Flags().IntVar(&concurrency, "concurrency", core.DefaultConcurrency, "parallel warehouse queries")
	cmd.Flags().StringVar(&scriptsRoot, "scripts", "scripts", "root directory of the SQL project")
	cmd.Flags().StringVar(&incrementalField, "incremental-field", "", "column driving incremental merges")
	cmd.Flags().StringArrayVar(&incrementalValues, "incremental-values", nil, "values of the incremental column to refresh")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-script timeout (0 disables)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit line-delimited JSON events")
	return cmd
}
