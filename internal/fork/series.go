package fork

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"
)

// Patch is one commit of the series rendered as an applyable diff.
type Patch struct {
	Hash     string
	Subject  string
	FileName string
	Content  string
}

// Series is an ordered patch set. Order is commit order (oldest first) and
// must be preserved: later patches depend on earlier ones applying.
type Series struct {
	Branch    string
	MergeBase string
	Patches   []Patch
}

// WriteFiles materializes the series as numbered .patch files under dir.
func (s *Series) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating patch directory %s: %w", dir, err)
	}
	for _, p := range s.Patches {
		path := filepath.Join(dir, p.FileName)
		if err := os.WriteFile(path, []byte(p.Content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

func buildSeries(branch string, base *object.Commit, commits []*object.Commit) (*Series, error) {
	series := &Series{
		Branch:    branch,
		MergeBase: base.Hash.String(),
	}

	for i, commit := range commits {
		parent, err := commit.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("reading parent of %s: %w", commit.Hash, err)
		}
		diff, err := parent.Patch(commit)
		if err != nil {
			return nil, fmt.Errorf("rendering diff for %s: %w", commit.Hash, err)
		}

		subject := commitSubject(commit)
		series.Patches = append(series.Patches, Patch{
			Hash:     commit.Hash.String(),
			Subject:  subject,
			FileName: fmt.Sprintf("%04d-%s.patch", i+1, slugify(subject)),
			Content:  renderPatch(commit, subject, diff.String()),
		})
	}
	return series, nil
}

// renderPatch wraps the diff in a mail-style header so the files read like
// git format-patch output and keep their provenance.
func renderPatch(commit *object.Commit, subject, diff string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From %s Mon Sep 17 00:00:00 2001\n", commit.Hash)
	fmt.Fprintf(&b, "From: %s <%s>\n", commit.Author.Name, commit.Author.Email)
	fmt.Fprintf(&b, "Date: %s\n", commit.Author.When.Format("Mon, 2 Jan 2006 15:04:05 -0700"))
	fmt.Fprintf(&b, "Subject: [PATCH] %s\n", subject)
	b.WriteString("\n---\n")
	b.WriteString(diff)
	if !strings.HasSuffix(diff, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func commitSubject(commit *object.Commit) string {
	subject := commit.Message
	if i := strings.IndexByte(subject, '\n'); i >= 0 {
		subject = subject[:i]
	}
	return strings.TrimSpace(subject)
}

// slugify turns a commit subject into a filename fragment.
func slugify(subject string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(subject) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 48 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
