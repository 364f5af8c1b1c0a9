package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
	"github.com/scottjg/nvidia-armsbc/internal/utils/shell"
)

type buildOptions struct {
	UbuntuVersion string
	FedoraVersion string
	NvidiaVersion string
	OutputDir     string
	NoCache       bool
}

func createBuildCommand() *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build <target>",
		Short: "Build packages for a target distribution (ubuntu, fedora, all) or clean the output tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.UbuntuVersion, "ubuntu-version", "24.04", "Ubuntu base image version")
	cmd.Flags().StringVar(&opts.FedoraVersion, "fedora-version", "42", "Fedora base image version")
	cmd.Flags().StringVar(&opts.NvidiaVersion, "nvidia-version", "", "driver version to build, bypassing resolution")
	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "output", "host directory the packages are written to")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "rebuild the container image from scratch")
	attachLoggingHooks(cmd)

	return cmd
}

func runBuild(opts *buildOptions, target string) error {
	switch target {
	case "ubuntu", "fedora":
		return buildTarget(opts, target)
	case "all":
		if err := buildTarget(opts, "ubuntu"); err != nil {
			return err
		}
		return buildTarget(opts, "fedora")
	case "clean":
		return cleanOutput(opts.OutputDir)
	default:
		return fmt.Errorf("unknown target %q (expected ubuntu, fedora, all or clean)", target)
	}
}

// cleanOutput removes the whole output tree. A tree that does not exist is
// already clean.
func cleanOutput(dir string) error {
	logger.Logger().Infof("Removing output tree %s", dir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cleaning %s: %w", dir, err)
	}
	return nil
}

// buildTarget builds the target's container image and runs the inner
// builder in it, with the output directory bind-mounted from the host.
func buildTarget(opts *buildOptions, target string) error {
	log := logger.Logger()

	engine, err := containerEngine()
	if err != nil {
		return err
	}

	distroVersion := opts.UbuntuVersion
	if target == "fedora" {
		distroVersion = opts.FedoraVersion
	}
	image := fmt.Sprintf("nvidia-armsbc-%s:%s", target, distroVersion)

	log.Infof("Building %s image %s with %s", target, image, engine)
	buildCmd := fmt.Sprintf("%s build -f docker/Dockerfile.%s -t %s --build-arg DISTRO_VERSION=%s", engine, target, image, distroVersion)
	if opts.NoCache {
		buildCmd += " --no-cache"
	}
	buildCmd += " ."
	if _, err := shell.ExecCmdWithStream(buildCmd, false, "", nil); err != nil {
		return fmt.Errorf("building %s image: %w", target, err)
	}

	outputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	log.Infof("Running %s build", target)
	runCmd := fmt.Sprintf("%s run --rm -v %s:/output", engine, outputDir)
	if opts.NvidiaVersion != "" {
		runCmd += fmt.Sprintf(" -e NVIDIA_VERSION=%s", opts.NvidiaVersion)
	}
	runCmd += " " + image
	if _, err := shell.ExecCmdWithStream(runCmd, false, "", nil); err != nil {
		return fmt.Errorf("%s build failed: %w", target, err)
	}

	log.Infof("Finished %s build, packages in %s", target, outputDir)
	return nil
}

// containerEngine picks docker when available and falls back to podman.
func containerEngine() (string, error) {
	for _, engine := range []string{"docker", "podman"} {
		exists, err := shell.IsCommandExist(engine)
		if err != nil {
			return "", err
		}
		if exists {
			return engine, nil
		}
	}
	return "", fmt.Errorf("neither docker nor podman is available")
}
