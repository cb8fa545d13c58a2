// Package cli wires the lea commands: run, test, dag, teardown, version.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carbonfact/lea/internal/cli/config"
	"github.com/carbonfact/lea/internal/dag"
	"github.com/carbonfact/lea/internal/parser"
	"github.com/carbonfact/lea/pkg/core"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lea",
		Short:         "A minimalist SQL transformation orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "path to the configuration file (default lea.yaml)")
	cmd.AddCommand(
		newRunCmd(),
		newTestCmd(),
		newDagCmd(),
		newTeardownCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return core.ExitCode(err)
	}
	return core.ExitOK
}

// loadConfig resolves the layered configuration for a command and builds the
// process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, path != "", cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Logger(os.Stderr), nil
}

// loadGraph parses the project and assembles its dependency graph.
func loadGraph(cfg *config.Config, logger *slog.Logger) (*dag.Graph, error) {
	scripts, err := parser.New(cfg.Scripts, logger).Parse()
	if err != nil {
		return nil, err
	}
	return dag.New(scripts)
}

// environment resolves the target environment, requiring a username for
// development runs.
func environment(cfg *config.Config, production bool) (core.Environment, error) {
	if production {
		return core.ProdEnvironment(), nil
	}
	if cfg.Username == "" {
		return core.Environment{}, core.Configf("a username is required for development runs (set LEA_USERNAME)")
	}
	return core.DevEnvironment(cfg.Username), nil
}

// gitResolver builds the changed-files callback for the "git" selector atom.
func gitResolver(ctx context.Context, scriptsRoot string) func() ([]string, error) {
	return func() ([]string, error) {
		return dag.GitChangedFiles(ctx, ".", scriptsRoot, "")
	}
}
