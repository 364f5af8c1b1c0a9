package distro

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
)

// Family is the package format a distribution installs from.
type Family string

const (
	FamilyDeb Family = "deb"
	FamilyRPM Family = "rpm"
)

// ErrUnsupportedDistro is returned when the host distribution does not map
// to a supported package family.
var ErrUnsupportedDistro = errors.New("unsupported distribution")

// OsReleaseFile is a variable so tests can point detection at a fixture.
var OsReleaseFile = "/etc/os-release"

// Identity describes the host OS as read from os-release.
type Identity struct {
	ID       string
	Version  string
	Codename string
	Family   Family
}

// Detect reads the host OS identity and maps it to a package family.
// It fails with ErrUnsupportedDistro when neither ID nor ID_LIKE matches a
// known distribution.
func Detect() (*Identity, error) {
	log := logger.Logger()

	file, err := os.Open(OsReleaseFile)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", OsReleaseFile, err)
	}
	defer file.Close()

	identity := &Identity{}
	var idLike []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"")

		switch key {
		case "ID":
			identity.ID = strings.ToLower(value)
		case "VERSION_ID":
			identity.Version = value
		case "VERSION_CODENAME":
			identity.Codename = value
		case "ID_LIKE":
			// ID_LIKE can contain multiple space-separated values
			idLike = strings.Fields(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", OsReleaseFile, err)
	}

	family, ok := familyForID(identity.ID)
	if !ok {
		for _, likeID := range idLike {
			if family, ok = familyForID(likeID); ok {
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDistro, identity.ID)
	}
	identity.Family = family

	log.Infof("Detected OS distribution: %s %s (codename: %s, package family: %s)",
		identity.ID, identity.Version, identity.Codename, identity.Family)
	return identity, nil
}

// familyForID returns the package family for a given distribution ID.
func familyForID(id string) (Family, bool) {
	switch strings.ToLower(id) {
	case "ubuntu", "debian", "linuxmint", "pop", "elementary", "kali", "raspbian":
		return FamilyDeb, true
	case "fedora", "rhel", "centos", "rocky", "almalinux", "oracle":
		return FamilyRPM, true
	default:
		return "", false
	}
}
