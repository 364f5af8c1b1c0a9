// Package rpm assembles the RPM packages: a Source0 tarball of the patched
// tree, a generated spec file, and an rpmbuild invocation producing both the
// binary and the source package.
package rpm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sassoftware/go-rpmutils"

	"github.com/scottjg/nvidia-armsbc/internal/config"
	"github.com/scottjg/nvidia-armsbc/internal/driver"
	"github.com/scottjg/nvidia-armsbc/internal/pkgbuild"
	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
	"github.com/scottjg/nvidia-armsbc/internal/utils/shell"
)

// Builder assembles binary and source RPMs from a patched source tree.
type Builder struct {
	Config    *config.Config
	SourceDir string
	BuildDir  string
	OutputDir string
}

// Build writes the Source0 tarball, the build script and the spec file into
// a private rpmbuild topdir, runs rpmbuild -ba, and copies the produced
// packages to the output directory. It returns the copied artifact paths.
func (b *Builder) Build(version driver.Version) ([]string, error) {
	log := logger.Logger()
	naming := pkgbuild.RPMNaming(b.Config, version)
	log.Infof("Assembling %s RPMs", naming.SourceDirName())

	topdir := filepath.Join(b.BuildDir, "rpmbuild")
	for _, sub := range []string{"SOURCES", "SPECS", "RPMS", "SRPMS", "BUILD"} {
		if err := os.MkdirAll(filepath.Join(topdir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating rpmbuild topdir: %w", err)
		}
	}

	tarball := filepath.Join(topdir, "SOURCES", naming.TarballName())
	if err := writeTarball(b.SourceDir, tarball, naming.SourceDirName()); err != nil {
		return nil, err
	}

	script, err := renderBuildScript(naming)
	if err != nil {
		return nil, err
	}
	scriptPath := filepath.Join(topdir, "SOURCES", "armsbc-build.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return nil, fmt.Errorf("writing build script: %w", err)
	}

	spec, err := renderSpec(naming, b.Config.RPMCandidates, time.Now().Format("Mon Jan 02 2006"))
	if err != nil {
		return nil, err
	}
	specPath := filepath.Join(topdir, "SPECS", naming.Name+".spec")
	if err := os.WriteFile(specPath, []byte(spec), 0o644); err != nil {
		return nil, fmt.Errorf("writing spec file: %w", err)
	}

	cmd := fmt.Sprintf("rpmbuild -ba --define \"_topdir %s\" %s", topdir, specPath)
	if _, err := shell.ExecCmdWithStream(cmd, false, "", nil); err != nil {
		return nil, fmt.Errorf("rpmbuild failed: %w", err)
	}

	return b.collectArtifacts(topdir)
}

// collectArtifacts copies every produced rpm into the output directory and
// logs each binary package's NEVRA as read back from the file itself.
func (b *Builder) collectArtifacts(topdir string) ([]string, error) {
	log := logger.Logger()

	binary, err := filepath.Glob(filepath.Join(topdir, "RPMS", "*", "*.rpm"))
	if err != nil {
		return nil, err
	}
	source, err := filepath.Glob(filepath.Join(topdir, "SRPMS", "*.rpm"))
	if err != nil {
		return nil, err
	}
	produced := append(binary, source...)
	if len(produced) == 0 {
		return nil, fmt.Errorf("rpmbuild produced no packages under %s", topdir)
	}

	if err := os.MkdirAll(b.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	var artifacts []string
	for _, path := range produced {
		dst := filepath.Join(b.OutputDir, filepath.Base(path))
		if err := pkgbuild.CopyFile(path, dst); err != nil {
			return nil, fmt.Errorf("copying %s: %w", path, err)
		}
		artifacts = append(artifacts, dst)

		if nevra := readNEVRA(dst); nevra != "" {
			log.Infof("Built %s (%s)", dst, nevra)
		} else {
			log.Infof("Built %s", dst)
		}
	}
	return artifacts, nil
}

// readNEVRA reads the package identity back out of the produced file. A
// package that cannot be parsed is logged without it.
func readNEVRA(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	pkg, err := rpmutils.ReadRpm(f)
	if err != nil {
		logger.Logger().Warnf("Could not read package header from %s: %v", path, err)
		return ""
	}
	nevra, err := pkg.Header.GetNEVRA()
	if err != nil {
		return ""
	}
	return nevra.String()
}
