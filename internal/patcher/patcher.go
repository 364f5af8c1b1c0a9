// Package patcher applies a patch series onto the fetched source tree.
// Application is best effort: the patches are maintained externally and may
// drift from the exact upstream tag, so a failed patch warns and the run
// continues.
package patcher

import (
	"fmt"
	"path/filepath"

	"github.com/scottjg/nvidia-armsbc/internal/fork"
	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
	"github.com/scottjg/nvidia-armsbc/internal/utils/shell"
)

// Outcome is the per-patch application result.
type Outcome string

const (
	// OutcomeApplied: dry-run check passed and the patch applied.
	OutcomeApplied Outcome = "applied"
	// OutcomeAppliedDespiteCheck: the dry-run check failed but the real
	// apply was attempted anyway and succeeded.
	OutcomeAppliedDespiteCheck Outcome = "applied-despite-check"
	// OutcomeFailed: the real apply failed; the tree may be partially
	// patched for this commit.
	OutcomeFailed Outcome = "failed"
)

// Result is one patch's explicit outcome so callers can log and assert on
// it instead of having failures swallowed.
type Result struct {
	Patch   string
	Outcome Outcome
	Err     error
}

// Report summarizes a full series application.
type Report struct {
	Results []Result
}

func (r *Report) Applied() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome != OutcomeFailed {
			n++
		}
	}
	return n
}

func (r *Report) Failed() int {
	return len(r.Results) - r.Applied()
}

// Applier mutates the source tree in place.
type Applier struct {
	SourceDir string
}

// Apply runs every patch of the series in order against the source tree.
// Each patch gets a dry-run check first; the real apply is attempted even
// when the check fails. Individual failures never abort the series.
func (a *Applier) Apply(series *fork.Series, patchDir string) *Report {
	log := logger.Logger()
	report := &Report{}

	for _, p := range series.Patches {
		path := filepath.Join(patchDir, p.FileName)

		_, checkErr := shell.ExecCmd(
			fmt.Sprintf("git apply --check --whitespace=nowarn %s", path),
			false, a.SourceDir, nil)
		if checkErr != nil {
			log.Warnf("Patch %s failed the dry-run check, attempting to apply anyway", p.FileName)
		}

		_, applyErr := shell.ExecCmd(
			fmt.Sprintf("git apply --whitespace=nowarn %s", path),
			false, a.SourceDir, nil)

		switch {
		case applyErr == nil && checkErr == nil:
			log.Infof("Applied %s", p.FileName)
			report.Results = append(report.Results, Result{Patch: p.FileName, Outcome: OutcomeApplied})
		case applyErr == nil:
			log.Warnf("Applied %s despite a failed dry-run check", p.FileName)
			report.Results = append(report.Results, Result{Patch: p.FileName, Outcome: OutcomeAppliedDespiteCheck})
		default:
			log.Warnf("Patch %s did not apply, continuing with the rest of the series: %v", p.FileName, applyErr)
			report.Results = append(report.Results, Result{Patch: p.FileName, Outcome: OutcomeFailed, Err: applyErr})
		}
	}

	log.Infof("Patch series done: %d applied, %d failed", report.Applied(), report.Failed())
	return report
}
