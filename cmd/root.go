package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/autowebkit/autowebkit/config"
	"github.com/autowebkit/autowebkit/pkg/logger"
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. A fresh tree per call keeps tests
// isolated from each other's flags.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "autowebkit",
		Short:         "Scripted browser automation over a real Chrome page.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to config file")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.InitLogger(cfg.Log)
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(loadConfig),
		newRunCmd(loadConfig),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI with ctx, which is cancelled on SIGINT/SIGTERM by main.
func Execute(ctx context.Context) int {
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
