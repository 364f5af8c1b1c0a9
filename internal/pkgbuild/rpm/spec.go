package rpm

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/scottjg/nvidia-armsbc/internal/pkgbuild"
)

const specTemplate = `%define debug_package %{nil}

Name:           {{.Name}}
Version:        {{.Version}}
Release:        {{.Release}}{{.Suffix}}%{?dist}
Summary:        NVIDIA open GPU kernel modules for ARM single board computers
License:        MIT AND GPL-2.0-only
URL:            https://github.com/NVIDIA/open-gpu-kernel-modules
Source0:        {{.Tarball}}
Source1:        armsbc-build.sh
ExclusiveArch:  {{.Arch}}

Requires:       gcc, make, kernel-devel
{{range .Replaced}}
Provides:       {{.}} = %{version}-%{release}
Conflicts:      {{.}}
Obsoletes:      {{.}} < %{version}-%{release}
{{- end}}

%description
Patched build of the NVIDIA open GPU kernel modules for ARM single board
computers. The module source ships under /usr/src and is compiled against
the running kernel at install time.

%prep
%setup -q

%install
mkdir -p %{buildroot}/usr/src/%{name}-%{version}
cp -a . %{buildroot}/usr/src/%{name}-%{version}/
install -D -m 0755 %{SOURCE1} %{buildroot}/usr/src/%{name}-%{version}/armsbc-build.sh
mkdir -p %{buildroot}%{_sysconfdir}/modprobe.d
cat > %{buildroot}%{_sysconfdir}/modprobe.d/blacklist-nouveau.conf << 'EOF'
blacklist nouveau
options nouveau modeset=0
EOF

%post
# Best effort. The target machine may not have matching kernel headers yet.
/usr/src/%{name}-%{version}/armsbc-build.sh || :

%files
/usr/src/%{name}-%{version}
%config(noreplace) %{_sysconfdir}/modprobe.d/blacklist-nouveau.conf

%changelog
* {{.Date}} nvidia-armsbc builders <noreply@localhost> - {{.Version}}-{{.Release}}
- Automated build of the patched open GPU kernel modules
`

const buildScriptTemplate = `#!/bin/sh
# Compiles the NVIDIA open modules against the running kernel and installs
# them. Invoked from the package's %post hook.
set -e

cd /usr/src/{{.Name}}-{{.Version}}
make -j"$(nproc)" modules KERNEL_UNAME="$(uname -r)"
make modules_install KERNEL_UNAME="$(uname -r)"
depmod "$(uname -r)"
`

type specFields struct {
	Name     string
	Version  string
	Release  string
	Suffix   string
	Arch     string
	Tarball  string
	Date     string
	Replaced []string
}

func renderSpec(naming pkgbuild.Naming, replaced []string, date string) (string, error) {
	return render("spec", specTemplate, specFields{
		Name:     naming.Name,
		Version:  string(naming.Version),
		Release:  naming.Release,
		Suffix:   naming.Suffix,
		Arch:     naming.Arch,
		Tarball:  naming.TarballName(),
		Date:     date,
		Replaced: replaced,
	})
}

func renderBuildScript(naming pkgbuild.Naming) (string, error) {
	return render("build script", buildScriptTemplate, specFields{
		Name:    naming.Name,
		Version: string(naming.Version),
	})
}

func render(name, tmpl string, fields specFields) (string, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing %s template: %w", name, err)
	}
	var out strings.Builder
	if err := t.Execute(&out, fields); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return out.String(), nil
}
