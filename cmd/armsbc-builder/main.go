// armsbc-builder runs the packaging pipeline on the machine (or container)
// it is invoked on: it probes the distribution, resolves the driver version,
// fetches and patches the source, and emits the native package.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/scottjg/nvidia-armsbc/internal/config"
	"github.com/scottjg/nvidia-armsbc/internal/pipeline"
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
	var (
		skipDownload bool
		configPath   string
	)

	cmd := &cobra.Command{
		Use:           "armsbc-builder",
		Short:         "Build a patched NVIDIA open GPU driver package for this machine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := resolveOptions(cmd)
			if err != nil {
				return err
			}
			opts.SkipDownload = skipDownload

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			artifacts, err := pipeline.Run(cfg, opts)
			if err != nil {
				return err
			}
			for _, artifact := range artifacts {
				logger.Logger().Infof("Wrote %s", artifact)
			}
			return nil
		},
	}

	cmd.Flags().String("nvidia-version", "", "driver version to build, bypassing resolution (env NVIDIA_VERSION)")
	cmd.Flags().String("output-dir", "/output", "directory the packages are written to (env OUTPUT_DIR)")
	cmd.Flags().String("build-dir", "/build", "working directory for source, mirror and patches (env BUILD_DIR)")
	cmd.Flags().BoolVar(&skipDownload, "skip-download", false, "reuse a previously fetched source tree")
	cmd.Flags().StringVar(&configPath, "config", "", "optional builder config file")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	attachLoggingHooks(cmd)

	return cmd
}

func resolveOptions(cmd *cobra.Command) (pipeline.Options, error) {
	nvidiaVersion, err := resolveStringOption(cmd.Flags(), "nvidia-version", "NVIDIA_VERSION")
	if err != nil {
		return pipeline.Options{}, err
	}
	outputDir, err := resolveStringOption(cmd.Flags(), "output-dir", "OUTPUT_DIR")
	if err != nil {
		return pipeline.Options{}, err
	}
	buildDir, err := resolveStringOption(cmd.Flags(), "build-dir", "BUILD_DIR")
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		NvidiaVersion: nvidiaVersion,
		OutputDir:     outputDir,
		BuildDir:      buildDir,
	}, nil
}

// resolveStringOption reads a string flag with its environment variable as
// the fallback. An explicitly set flag wins over the environment, which
// wins over the flag's default.
func resolveStringOption(flags *pflag.FlagSet, flag, env string) (string, error) {
	if flags.Changed(flag) {
		return flags.GetString(flag)
	}
	if value := os.Getenv(env); value != "" {
		return value, nil
	}
	return flags.GetString(flag)
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
