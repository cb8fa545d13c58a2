package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carbonfact/lea/internal/dag"
)

func newDagCmd() *cobra.Command {
	var selects []string

	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Print the dependency graph in topological order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			graph, err := loadGraph(cfg, logger)
			if err != nil {
				return err
			}
			active, err := graph.Select(selects, nil, dag.SelectOptions{
				ChangedFiles: gitResolver(cmd.Context(), cfg.Scripts),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, ref := range graph.TopoSort() {
				if _, ok := active[ref.Key()]; !ok {
					continue
				}
				fmt.Fprintln(out, ref)
				for _, parent := range graph.Parents(ref) {
					fmt.Fprintf(out, "  <- %s\n", parent)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&selects, "select", "s", nil, "selection expression, repeatable")
	return cmd
}
