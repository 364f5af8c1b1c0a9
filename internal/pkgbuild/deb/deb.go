// Package deb assembles the Debian package: a DKMS source tree staged under
// /usr/src, maintainer scripts that hand the module to the host's DKMS
// service, and a dpkg-deb invocation.
package deb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/scottjg/nvidia-armsbc/internal/config"
	"github.com/scottjg/nvidia-armsbc/internal/driver"
	"github.com/scottjg/nvidia-armsbc/internal/pkgbuild"
	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
	"github.com/scottjg/nvidia-armsbc/internal/utils/shell"
)

// The five kernel modules the open driver tree builds, in the order DKMS
// enumerates them. All of them land under kernel-open/ and install to the
// video drivers location.
var builtModules = []string{
	"nvidia",
	"nvidia-modeset",
	"nvidia-drm",
	"nvidia-uvm",
	"nvidia-peermem",
}

const dkmsConfTemplate = `PACKAGE_NAME="{{.Name}}"
PACKAGE_VERSION="{{.Version}}"
AUTOINSTALL="yes"

MAKE[0]="make -j$(nproc) modules KERNEL_UNAME=${kernelver}"
CLEAN="make clean"
{{range $i, $m := .Modules}}
BUILT_MODULE_NAME[{{$i}}]="{{$m}}"
BUILT_MODULE_LOCATION[{{$i}}]="kernel-open/"
DEST_MODULE_LOCATION[{{$i}}]="/kernel/drivers/video"
{{end}}`

const controlTemplate = `Package: {{.Name}}
Version: {{.FullVersion}}
Architecture: {{.Arch}}
Maintainer: {{.Maintainer}}
Section: kernel
Priority: optional
Depends: dkms, make, gcc
Provides: nvidia-dkms-{{.Major}}
Conflicts: nvidia-dkms-{{.Major}}, nvidia-dkms-{{.Major}}-open
Replaces: nvidia-dkms-{{.Major}}-open
Description: NVIDIA open GPU kernel modules for ARM single board computers
 Patched build of the NVIDIA open GPU kernel modules, registered with DKMS
 so the modules are rebuilt whenever the running kernel changes.
`

const postinstTemplate = `#!/bin/sh
set -e

# DKMS registration is best effort. A failed build against the running
# kernel is left to the target machine to sort out.
dkms add -m {{.Name}} -v {{.Version}} || true
dkms build -m {{.Name}} -v {{.Version}} || true
dkms install -m {{.Name}} -v {{.Version}} || true

exit 0
`

const prermTemplate = `#!/bin/sh
set -e

dkms remove -m {{.Name}} -v {{.Version}} --all || true

exit 0
`

const blacklistConf = `blacklist nouveau
options nouveau modeset=0
`

// Builder assembles a .deb from a patched source tree.
type Builder struct {
	Config    *config.Config
	SourceDir string
	BuildDir  string
	OutputDir string
}

// Build stages the DKMS tree, writes the package metadata and maintainer
// scripts, and invokes dpkg-deb. It returns the path of the produced .deb.
func (b *Builder) Build(version driver.Version) (string, error) {
	log := logger.Logger()
	naming := pkgbuild.DebNaming(b.Config, version)
	log.Infof("Assembling %s", naming.DebFileName())

	pkgRoot := filepath.Join(b.BuildDir, "deb", naming.Name)
	if err := os.RemoveAll(pkgRoot); err != nil {
		return "", fmt.Errorf("clearing package root %s: %w", pkgRoot, err)
	}

	srcStage := filepath.Join(pkgRoot, "usr", "src", naming.SourceDirName())
	if err := os.MkdirAll(srcStage, 0o755); err != nil {
		return "", fmt.Errorf("creating staging tree: %w", err)
	}
	if err := pkgbuild.CopyTree(b.SourceDir, srcStage); err != nil {
		return "", fmt.Errorf("staging source tree: %w", err)
	}

	if err := b.writeMetadata(pkgRoot, srcStage, naming); err != nil {
		return "", err
	}

	if err := os.MkdirAll(b.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	artifact := filepath.Join(b.OutputDir, naming.DebFileName())

	cmd := fmt.Sprintf("dpkg-deb --build --root-owner-group %s %s", pkgRoot, artifact)
	if _, err := shell.ExecCmdWithStream(cmd, false, "", nil); err != nil {
		return "", fmt.Errorf("dpkg-deb failed: %w", err)
	}

	log.Infof("Built %s", artifact)
	return artifact, nil
}

func (b *Builder) writeMetadata(pkgRoot, srcStage string, naming pkgbuild.Naming) error {
	fields := struct {
		Name        string
		Version     driver.Version
		FullVersion string
		Major       string
		Arch        string
		Maintainer  string
		Modules     []string
	}{
		Name:        naming.Name,
		Version:     naming.Version,
		FullVersion: naming.FullVersion(),
		Major:       naming.Version.Major(),
		Arch:        naming.Arch,
		Maintainer:  "nvidia-armsbc builders <noreply@localhost>",
		Modules:     builtModules,
	}

	files := []struct {
		path     string
		template string
		perm     os.FileMode
	}{
		{filepath.Join(srcStage, "dkms.conf"), dkmsConfTemplate, 0o644},
		{filepath.Join(pkgRoot, "DEBIAN", "control"), controlTemplate, 0o644},
		{filepath.Join(pkgRoot, "DEBIAN", "postinst"), postinstTemplate, 0o755},
		{filepath.Join(pkgRoot, "DEBIAN", "prerm"), prermTemplate, 0o755},
	}
	for _, f := range files {
		if err := renderFile(f.path, f.template, fields, f.perm); err != nil {
			return err
		}
	}

	blacklist := filepath.Join(pkgRoot, "etc", "modprobe.d", "blacklist-nouveau.conf")
	if err := os.MkdirAll(filepath.Dir(blacklist), 0o755); err != nil {
		return fmt.Errorf("creating modprobe.d: %w", err)
	}
	if err := os.WriteFile(blacklist, []byte(blacklistConf), 0o644); err != nil {
		return fmt.Errorf("writing nouveau blacklist: %w", err)
	}
	return nil
}

func renderFile(path, tmpl string, fields any, perm os.FileMode) error {
	t, err := template.New(filepath.Base(path)).Parse(tmpl)
	if err != nil {
		return fmt.Errorf("parsing %s template: %w", filepath.Base(path), err)
	}

	var out strings.Builder
	if err := t.Execute(&out, fields); err != nil {
		return fmt.Errorf("rendering %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(out.String()), perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
