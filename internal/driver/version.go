// Package driver holds the NVIDIA driver version value type shared by the
// pipeline stages.
package driver

import (
	"fmt"
	"regexp"
	"strings"
)

// Version is a dotted NVIDIA driver version, e.g. "580.95.05". Upstream tags
// releases with the bare version string, so a Version doubles as the git tag
// of the matching source tree.
type Version string

var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// Parse validates the syntactic shape of a version string. It does not check
// that the version exists upstream.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("driver version is empty")
	}
	if !versionPattern.MatchString(s) {
		return "", fmt.Errorf("driver version %q is not a dotted version string", s)
	}
	return Version(s), nil
}

// Major returns the first dot-segment of the version.
func (v Version) Major() string {
	s := string(v)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Tag is the upstream git tag naming convention for this version.
func (v Version) Tag() string { return string(v) }

func (v Version) String() string { return string(v) }
