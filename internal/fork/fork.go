// Package fork resolves which patch branch of the armsbc fork matches a
// driver major version and materializes its commits as a patch series.
package fork

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
)

var (
	// ErrPatchBranchNotFound means neither the versioned branch nor the
	// fallback exists; there is no valid patch set to apply.
	ErrPatchBranchNotFound = errors.New("no matching patch branch in fork")
	// ErrUpstreamMainUnavailable means the fork's mainline cannot be
	// resolved, so no merge base can be computed.
	ErrUpstreamMainUnavailable = errors.New("fork main branch unavailable")
	// ErrNoMergeBase indicates a history inconsistency in the fork that the
	// build cannot resolve automatically.
	ErrNoMergeBase = errors.New("no merge base between patch branch and main")
)

// BranchRule is one entry of the declarative branch lookup table: if the
// rule matches the driver major version, Name is the branch to try.
type BranchRule struct {
	Matches func(major string) bool
	Name    func(major string) string
}

// DefaultRules tries "<base>-<major>" first, then the unversioned base
// branch.
func DefaultRules(base string) []BranchRule {
	return []BranchRule{
		{
			Matches: func(major string) bool { return major != "" },
			Name:    func(major string) string { return base + "-" + major },
		},
		{
			Matches: func(string) bool { return true },
			Name:    func(string) string { return base },
		},
	}
}

// Fork wraps a local copy of the patch fork's history.
type Fork struct {
	repo       *git.Repository
	rules      []BranchRule
	mainBranch string
}

func Open(repo *git.Repository, rules []BranchRule, mainBranch string) *Fork {
	return &Fork{repo: repo, rules: rules, mainBranch: mainBranch}
}

// Select resolves the patch branch for the given driver major version,
// computes the merge base with the fork's mainline, and returns the commits
// between them as an ordered patch series (oldest first).
func (f *Fork) Select(major string) (*Series, error) {
	log := logger.Logger()

	branchName, tip, err := f.resolveBranch(major)
	if err != nil {
		return nil, err
	}
	log.Infof("Using patch branch %s (%s)", branchName, tip.Hash)

	mainTip, err := f.branchTip(f.mainBranch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamMainUnavailable, f.mainBranch)
	}

	bases, err := tip.MergeBase(mainTip)
	if err != nil {
		return nil, fmt.Errorf("computing merge base of %s and %s: %w", branchName, f.mainBranch, err)
	}
	if len(bases) == 0 {
		return nil, fmt.Errorf("%w: %s vs %s", ErrNoMergeBase, branchName, f.mainBranch)
	}
	base := bases[0]
	log.Infof("Merge base with %s: %s", f.mainBranch, base.Hash)

	commits, err := commitRange(base, tip)
	if err != nil {
		return nil, fmt.Errorf("walking %s..%s: %w", base.Hash, branchName, err)
	}
	log.Infof("Patch series has %d commits", len(commits))

	return buildSeries(branchName, base, commits)
}

// resolveBranch walks the rule table in order and returns the first branch
// that exists in the fork.
func (f *Fork) resolveBranch(major string) (string, *object.Commit, error) {
	log := logger.Logger()

	var tried []string
	for _, rule := range f.rules {
		if !rule.Matches(major) {
			continue
		}
		name := rule.Name(major)
		tip, err := f.branchTip(name)
		if err != nil {
			log.Warnf("Patch branch %s not found in fork, trying next rule", name)
			tried = append(tried, name)
			continue
		}
		return name, tip, nil
	}
	return "", nil, fmt.Errorf("%w: tried %v for driver major %q", ErrPatchBranchNotFound, tried, major)
}

// branchTip resolves a branch name against local heads first, then the
// origin remote refs a non-mirror clone would carry.
func (f *Fork) branchTip(name string) (*object.Commit, error) {
	for _, refName := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(name),
		plumbing.NewRemoteReferenceName("origin", name),
	} {
		ref, err := f.repo.Reference(refName, true)
		if err != nil {
			continue
		}
		return f.repo.CommitObject(ref.Hash())
	}
	return nil, plumbing.ErrReferenceNotFound
}

// commitRange returns the first-parent chain base..tip, oldest first. The
// fork keeps its patch branches linear, so a first-parent walk recovers the
// same range git format-patch would.
func commitRange(base, tip *object.Commit) ([]*object.Commit, error) {
	var commits []*object.Commit
	current := tip
	for current.Hash != base.Hash {
		commits = append(commits, current)
		if current.NumParents() == 0 {
			return nil, fmt.Errorf("reached root commit without finding merge base %s", base.Hash)
		}
		parent, err := current.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("reading parent of %s: %w", current.Hash, err)
		}
		current = parent
	}

	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}
