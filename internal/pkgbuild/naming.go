// Package pkgbuild holds the pieces shared by the deb and rpm package
// assemblers: deterministic artifact naming and the staging-tree copy.
package pkgbuild

import (
	"fmt"

	"github.com/scottjg/nvidia-armsbc/internal/config"
	"github.com/scottjg/nvidia-armsbc/internal/driver"
)

// Naming derives every artifact name for one build from the configured
// package identity and the resolved driver version.
type Naming struct {
	Name    string
	Version driver.Version
	Release string
	Suffix  string
	Arch    string
}

// DebNaming returns the naming for a Debian package build.
func DebNaming(cfg *config.Config, version driver.Version) Naming {
	return Naming{
		Name:    cfg.PackageName,
		Version: version,
		Release: cfg.Release,
		Suffix:  cfg.Suffix,
		Arch:    cfg.DebArch,
	}
}

// RPMNaming returns the naming for an RPM package build.
func RPMNaming(cfg *config.Config, version driver.Version) Naming {
	return Naming{
		Name:    cfg.PackageName,
		Version: version,
		Release: cfg.Release,
		Suffix:  cfg.Suffix,
		Arch:    cfg.RPMArch,
	}
}

// FullVersion is the package version including release and suffix, e.g.
// "580.95.05-1" or "580.95.05-1ubuntu1" when a suffix is configured.
func (n Naming) FullVersion() string {
	return fmt.Sprintf("%s-%s%s", n.Version, n.Release, n.Suffix)
}

// SourceDirName is the versioned directory the patched tree is staged
// under, e.g. "nvidia-open-armsbc-580.95.05". DKMS and rpmbuild both key
// on this layout.
func (n Naming) SourceDirName() string {
	return fmt.Sprintf("%s-%s", n.Name, n.Version)
}

// DebFileName is the artifact name dpkg-deb produces for this build.
func (n Naming) DebFileName() string {
	return fmt.Sprintf("%s_%s_%s.deb", n.Name, n.FullVersion(), n.Arch)
}

// TarballName is the Source0 tarball name for the rpm build.
func (n Naming) TarballName() string {
	return n.SourceDirName() + ".tar.gz"
}
