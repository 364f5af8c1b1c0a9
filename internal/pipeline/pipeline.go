// Package pipeline runs the build stages in order: probe the distro,
// resolve the driver version, fetch the upstream source, select and apply
// the patch series, then assemble the native package.
package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scottjg/nvidia-armsbc/internal/config"
	"github.com/scottjg/nvidia-armsbc/internal/distro"
	"github.com/scottjg/nvidia-armsbc/internal/fork"
	"github.com/scottjg/nvidia-armsbc/internal/patcher"
	"github.com/scottjg/nvidia-armsbc/internal/pkgbuild/deb"
	"github.com/scottjg/nvidia-armsbc/internal/pkgbuild/rpm"
	"github.com/scottjg/nvidia-armsbc/internal/resolver"
	"github.com/scottjg/nvidia-armsbc/internal/source"
	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
)

// Options are the per-run settings of the inner builder.
type Options struct {
	NvidiaVersion string
	OutputDir     string
	BuildDir      string
	SkipDownload  bool
}

// Run executes the whole pipeline on the current machine and returns the
// produced package paths. Any error is fatal; patch failures are not errors
// and are only logged.
func Run(cfg *config.Config, opts Options) ([]string, error) {
	// Every stage announcement carries the run id, so interleaved container
	// logs stay attributable to one run.
	log := logger.Logger().With("run", uuid.NewString())
	log.Info("Starting build run")

	identity, err := distro.Detect()
	if err != nil {
		return nil, err
	}
	log.Infof("Building for %s %s (%s packages)", identity.ID, identity.Version, identity.Family)

	version, err := resolver.New(cfg).Resolve(identity, opts.NvidiaVersion)
	if err != nil {
		return nil, err
	}
	log.Infof("Driver version %s (major %s)", version, version.Major())

	fetcher := &source.Fetcher{
		UpstreamURL:  cfg.UpstreamURL,
		BuildDir:     opts.BuildDir,
		SkipDownload: opts.SkipDownload,
	}
	sourceDir, err := fetcher.Fetch(version)
	if err != nil {
		return nil, err
	}

	if err := applyPatches(log, cfg, opts, version.Major(), sourceDir); err != nil {
		return nil, err
	}

	switch identity.Family {
	case distro.FamilyDeb:
		builder := &deb.Builder{Config: cfg, SourceDir: sourceDir, BuildDir: opts.BuildDir, OutputDir: opts.OutputDir}
		artifact, err := builder.Build(version)
		if err != nil {
			return nil, err
		}
		return []string{artifact}, nil
	case distro.FamilyRPM:
		builder := &rpm.Builder{Config: cfg, SourceDir: sourceDir, BuildDir: opts.BuildDir, OutputDir: opts.OutputDir}
		return builder.Build(version)
	default:
		return nil, fmt.Errorf("%w: no package builder for family %q", distro.ErrUnsupportedDistro, identity.Family)
	}
}

// applyPatches mirrors the fork, selects the patch series for the driver
// major, writes the patch files into the build directory, and applies them
// best effort.
func applyPatches(log *zap.SugaredLogger, cfg *config.Config, opts Options, major, sourceDir string) error {
	mirror := filepath.Join(opts.BuildDir, "armsbc-fork.git")
	repo, err := fork.CloneMirror(cfg.ForkURL, mirror)
	if err != nil {
		return fmt.Errorf("mirroring fork %s: %w", cfg.ForkURL, err)
	}

	f := fork.Open(repo, fork.DefaultRules(cfg.PatchBranchBase), cfg.ForkMainBranch)
	series, err := f.Select(major)
	if err != nil {
		return err
	}
	log.Infof("Selected %d patches from branch %s", len(series.Patches), series.Branch)

	patchDir := filepath.Join(opts.BuildDir, "patches")
	if err := series.WriteFiles(patchDir); err != nil {
		return err
	}

	applier := &patcher.Applier{SourceDir: sourceDir}
	report := applier.Apply(series, patchDir)
	if report.Failed() > 0 {
		log.Warnf("%d of %d patches did not apply cleanly", report.Failed(), len(report.Results))
	}
	return nil
}
