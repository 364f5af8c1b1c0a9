// Package resolver discovers the newest NVIDIA driver version advertised by
// the host distribution's package repositories.
package resolver

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/scottjg/nvidia-armsbc/internal/config"
	"github.com/scottjg/nvidia-armsbc/internal/distro"
	"github.com/scottjg/nvidia-armsbc/internal/driver"
	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
	"github.com/scottjg/nvidia-armsbc/internal/utils/shell"
)

// ErrVersionNotFound is returned when no candidate package resolves to a
// driver version. The pipeline cannot proceed without a target version.
var ErrVersionNotFound = errors.New("no nvidia driver version found")

// debPackagePattern matches Ubuntu's open-driver DKMS package names and
// captures the major version, e.g. nvidia-dkms-580-open.
var debPackagePattern = regexp.MustCompile(`^nvidia-dkms-([0-9]+)-open$`)

// Resolver picks the target driver version for a distribution. One instance
// is good for one pipeline run; repository enablement is attempted at most
// once per instance.
type Resolver struct {
	cfg          *config.Config
	enabledRepos bool
}

func New(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns the driver version to build. A non-empty override is
// trusted verbatim; it is never validated against upstream existence.
func (r *Resolver) Resolve(identity *distro.Identity, override string) (driver.Version, error) {
	log := logger.Logger()

	if strings.TrimSpace(override) != "" {
		v, err := driver.Parse(override)
		if err != nil {
			return "", fmt.Errorf("invalid --nvidia-version override: %w", err)
		}
		log.Infof("Using explicit NVIDIA driver version %s", v)
		return v, nil
	}

	switch identity.Family {
	case distro.FamilyDeb:
		return r.resolveApt(identity)
	case distro.FamilyRPM:
		return r.resolveDnf(identity)
	default:
		return "", fmt.Errorf("%w: no resolver for package family %q", ErrVersionNotFound, identity.Family)
	}
}

// resolveApt finds the newest nvidia-dkms-<major>-open package in the apt
// index. When apt is not installed on the resolving host it falls back to
// scanning the distribution's Packages index over HTTP.
func (r *Resolver) resolveApt(identity *distro.Identity) (driver.Version, error) {
	log := logger.Logger()

	r.enableRepositories(identity)

	hasApt, _ := shell.IsCommandExist("apt-cache")
	if !hasApt {
		log.Infof("apt-cache not available on this host, scanning the archive index over HTTP")
		return r.resolveFromHTTPIndex(identity)
	}

	output, err := shell.ExecCmd(`apt-cache search --names-only '^nvidia-dkms-[0-9]+-open$'`, false, "", nil)
	if err != nil {
		return "", fmt.Errorf("searching apt index: %w", err)
	}

	var names []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if debPackagePattern.MatchString(fields[0]) {
			names = append(names, fields[0])
		}
	}

	name, ok := bestDebPackage(names)
	if !ok {
		return "", fmt.Errorf("%w: no nvidia-dkms-*-open package in the apt index", ErrVersionNotFound)
	}
	log.Infof("Newest open-driver package in the apt index: %s", name)

	policy, err := shell.ExecCmd("apt-cache policy "+name, false, "", nil)
	if err != nil {
		return "", fmt.Errorf("querying candidate version of %s: %w", name, err)
	}
	candidate := parseAptCandidate(policy)
	if candidate == "" {
		return "", fmt.Errorf("%w: %s has no installation candidate", ErrVersionNotFound, name)
	}

	v, err := driver.Parse(upstreamVersion(candidate))
	if err != nil {
		return "", fmt.Errorf("candidate version of %s: %w", name, err)
	}
	log.Infof("Resolved NVIDIA driver version %s from %s", v, name)
	return v, nil
}

// resolveDnf probes a fixed ordered list of candidate package names and
// returns the version of the first that resolves.
func (r *Resolver) resolveDnf(identity *distro.Identity) (driver.Version, error) {
	log := logger.Logger()

	r.enableRepositories(identity)

	for _, name := range r.cfg.RPMCandidates {
		cmd := fmt.Sprintf("dnf repoquery --quiet --latest-limit 1 --queryformat '%%{VERSION}\\n' %s", name)
		output, err := shell.ExecCmd(cmd, false, "", nil)
		if err != nil {
			log.Debugf("repoquery for %s failed: %v", name, err)
			continue
		}
		version := firstNonEmptyLine(output)
		if version == "" {
			log.Debugf("no %s package in the enabled repositories", name)
			continue
		}
		v, err := driver.Parse(version)
		if err != nil {
			log.Warnf("ignoring unparseable version %q reported for %s: %v", version, name, err)
			continue
		}
		log.Infof("Resolved NVIDIA driver version %s from %s", v, name)
		return v, nil
	}
	return "", fmt.Errorf("%w: none of %v resolves", ErrVersionNotFound, r.cfg.RPMCandidates)
}

// enableRepositories makes a one-time, best-effort attempt to enable the
// repository carrying the driver packages. Its failure never blocks
// resolution; the outcome is always logged.
func (r *Resolver) enableRepositories(identity *distro.Identity) {
	log := logger.Logger()
	if r.enabledRepos {
		return
	}
	r.enabledRepos = true

	var cmd string
	switch identity.Family {
	case distro.FamilyDeb:
		cmd = "add-apt-repository -y restricted && apt-get update"
	case distro.FamilyRPM:
		cmd = fmt.Sprintf("dnf install -y"+
			" https://mirrors.rpmfusion.org/free/fedora/rpmfusion-free-release-%s.noarch.rpm"+
			" https://mirrors.rpmfusion.org/nonfree/fedora/rpmfusion-nonfree-release-%s.noarch.rpm",
			identity.Version, identity.Version)
	default:
		return
	}

	if _, err := shell.ExecCmd(cmd, true, "", nil); err != nil {
		log.Warnf("Enabling driver repositories failed (continuing with the configured ones): %v", err)
		return
	}
	log.Infof("Driver repositories enabled")
}

// bestDebPackage picks the package with the numerically highest major
// version from the matched names.
func bestDebPackage(names []string) (string, bool) {
	type candidate struct {
		name  string
		major int
	}
	var candidates []candidate
	for _, name := range names {
		m := debPackagePattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		major, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: name, major: major})
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].major > candidates[j].major
	})
	return candidates[0].name, true
}

// parseAptCandidate extracts the Candidate line of apt-cache policy output.
func parseAptCandidate(policy string) string {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Candidate:") {
			continue
		}
		v := strings.TrimSpace(strings.TrimPrefix(line, "Candidate:"))
		if v == "" || v == "(none)" {
			return ""
		}
		return v
	}
	return ""
}

// upstreamVersion strips the Debian epoch and revision from a package
// version, e.g. "580.95.05-1" -> "580.95.05".
func upstreamVersion(v string) string {
	if i := strings.IndexByte(v, ':'); i >= 0 {
		v = v[i+1:]
	}
	if i := strings.IndexByte(v, '-'); i >= 0 {
		v = v[:i]
	}
	return v
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
