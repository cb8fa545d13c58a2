package cli

import (
	"github.com/spf13/cobra"

	"github.com/carbonfact/lea/internal/warehouse"
	"github.com/carbonfact/lea/pkg/core"
)

func newTeardownCmd() *cobra.Command {
	var (
		production bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Drop the environment's namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			env, err := environment(cfg, production)
			if err != nil {
				return err
			}
			if env.Production && !force {
				return core.Configf("refusing to tear down production without --force")
			}

			wh, err := warehouse.New(cfg.Warehouse, logger)
			if err != nil {
				return err
			}
			defer wh.Close()
			return wh.Teardown(cmd.Context(), env)
		},
	}

	cmd.Flags().BoolVar(&production, "production", false, "target the production environment")
	cmd.Flags().BoolVar(&force, "force", false, "allow tearing down production")
	return cmd
}
