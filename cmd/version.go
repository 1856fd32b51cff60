package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X github.com/autowebkit/autowebkit/cmd.Version=...".
var (
	Version   = "v0.1.0"
	BuildTime = ""
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %s\n", Version)
			if BuildTime != "" {
				fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
			}
			fmt.Fprintf(out, "Go Version: %s\n", runtime.Version())
		},
	}
}
