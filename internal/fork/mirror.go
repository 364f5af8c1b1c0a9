package fork

import (
	"fmt"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"

	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
)

// CloneMirror returns a bare clone of the fork at path, creating it on first
// use and refreshing its branches on subsequent runs. The clone is the
// build-directory cache the selector works against; refresh failures are
// non-fatal since a stale but complete history still yields a valid series.
func CloneMirror(url, path string) (*git.Repository, error) {
	log := logger.Logger()

	repo, err := git.PlainOpen(path)
	if err == nil {
		log.Infof("Reusing cached fork clone at %s", path)
		fetchErr := repo.Fetch(&git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   []gitconfig.RefSpec{"+refs/heads/*:refs/heads/*"},
			Force:      true,
			Tags:       git.NoTags,
		})
		if fetchErr != nil && fetchErr != git.NoErrAlreadyUpToDate {
			log.Warnf("Refreshing fork clone failed (using cached history): %v", fetchErr)
		}
		return repo, nil
	}

	log.Infof("Cloning fork %s into %s", url, path)
	repo, err = git.PlainClone(path, true, &git.CloneOptions{
		URL:        url,
		NoCheckout: true,
		Tags:       git.NoTags,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning fork %s: %w", url, err)
	}
	return repo, nil
}
