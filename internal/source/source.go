// Package source fetches NVIDIA's open kernel module tree at the tag
// matching the resolved driver version.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scottjg/nvidia-armsbc/internal/driver"
	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
	"github.com/scottjg/nvidia-armsbc/internal/utils/shell"
)

// ErrSourceMissing is returned when --skip-download is requested but the
// build directory holds no previously fetched tree.
var ErrSourceMissing = errors.New("source tree missing from build directory")

const treeName = "open-gpu-kernel-modules"

type Fetcher struct {
	UpstreamURL  string
	BuildDir     string
	SkipDownload bool
}

// Fetch ensures the NVIDIA source tree for the given version is present in
// the build directory and returns its path. An existing tree is reused only
// with SkipDownload; otherwise it is removed and re-cloned, since a leftover
// tree may belong to another driver version and is already patched. The
// clone is shallow: one tag, depth 1.
func (f *Fetcher) Fetch(version driver.Version) (string, error) {
	log := logger.Logger()
	dir := filepath.Join(f.BuildDir, treeName)

	_, statErr := os.Stat(filepath.Join(dir, ".git"))
	if f.SkipDownload {
		if statErr != nil {
			return "", fmt.Errorf("%w: %s (--skip-download requires a previously populated build directory)", ErrSourceMissing, dir)
		}
		log.Infof("Reusing existing source tree %s", dir)
		return dir, nil
	}
	if statErr == nil {
		log.Infof("Removing stale source tree %s", dir)
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("removing stale source tree %s: %w", dir, err)
		}
	}

	log.Infof("Fetching NVIDIA open kernel modules %s from %s", version.Tag(), f.UpstreamURL)
	cmd := fmt.Sprintf("git clone --depth 1 --branch %s %s %s", version.Tag(), f.UpstreamURL, dir)
	if _, err := shell.ExecCmdWithStream(cmd, false, "", nil); err != nil {
		return "", fmt.Errorf("fetching nvidia source at tag %s: %w", version.Tag(), err)
	}
	return dir, nil
}
