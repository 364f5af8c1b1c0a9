// nvidia-armsbc orchestrates container builds of the patched NVIDIA open
// GPU driver packages: one container per target distribution, with the
// output directory bind-mounted from the host.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
)

// logLevel is the explicitly requested log level. It wins over --verbose.
var logLevel string

func main() {
	if err := createRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "nvidia-armsbc",
		Short:         "Build NVIDIA open GPU driver packages for ARM single board computers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(createBuildCommand())
	return root
}

func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd != nil {
		if verbose, err := cmd.Flags().GetBool("verbose"); err == nil && verbose {
			return "debug"
		}
	}
	return ""
}

func attachLoggingHooks(cmd *cobra.Command) {
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level := resolveRequestedLogLevel(cmd)
		if level == "" {
			level = "info"
		}
		return logger.Init(level)
	}
}
