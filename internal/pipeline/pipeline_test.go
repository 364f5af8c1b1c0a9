package pipeline_test

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/scottjg/nvidia-armsbc/internal/config"
	"github.com/scottjg/nvidia-armsbc/internal/distro"
	"github.com/scottjg/nvidia-armsbc/internal/pipeline"
	"github.com/scottjg/nvidia-armsbc/internal/source"
	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
	"github.com/scottjg/nvidia-armsbc/internal/utils/shell"
)

func withOsRelease(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "os-release")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	original := distro.OsReleaseFile
	distro.OsReleaseFile = path
	t.Cleanup(func() { distro.OsReleaseFile = original })
}

func TestRunUnsupportedDistroAborts(t *testing.T) {
	withOsRelease(t, "ID=alpine\nVERSION_ID=\"3.20\"\n")

	originalExecutor := shell.Default
	defer func() { shell.Default = originalExecutor }()
	mock := shell.NewMockExecutor(nil)
	shell.Default = mock

	_, err := pipeline.Run(config.Default(), pipeline.Options{
		OutputDir: t.TempDir(),
		BuildDir:  t.TempDir(),
	})
	if !errors.Is(err, distro.ErrUnsupportedDistro) {
		t.Fatalf("Expected ErrUnsupportedDistro, got %v", err)
	}
	if len(mock.Calls) != 0 {
		t.Errorf("Expected no commands before the distro probe fails, got %v", mock.Calls)
	}
}

func TestRunSkipDownloadRequiresSource(t *testing.T) {
	withOsRelease(t, "ID=ubuntu\nVERSION_ID=\"24.04\"\nVERSION_CODENAME=noble\n")

	originalExecutor := shell.Default
	defer func() { shell.Default = originalExecutor }()
	mock := shell.NewMockExecutor(nil)
	shell.Default = mock

	_, err := pipeline.Run(config.Default(), pipeline.Options{
		NvidiaVersion: "580.95.05",
		OutputDir:     t.TempDir(),
		BuildDir:      t.TempDir(),
		SkipDownload:  true,
	})
	if !errors.Is(err, source.ErrSourceMissing) {
		t.Fatalf("Expected ErrSourceMissing, got %v", err)
	}
	// The explicit version override means nothing was resolved via the
	// package manager, and the missing tree aborts before any clone.
	if len(mock.Calls) != 0 {
		t.Errorf("Expected no commands, got %v", mock.Calls)
	}
}

// forkFixture assembles a small on-disk bare fork (mainline plus one
// versioned patch branch) so the pipeline can mirror it without network
// access.
type forkFixture struct {
	t    *testing.T
	repo *git.Repository
	when time.Time
}

func newForkFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, true)
	if err != nil {
		t.Fatalf("Failed to init fork fixture: %v", err)
	}
	b := &forkFixture{t: t, repo: repo, when: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}

	base := b.commit("Track upstream release", map[string]string{
		"README": "open kernel modules\n",
	})
	b.branch("main", base)

	patch := b.commit("Force coherent DMA allocations on armsbc", map[string]string{
		"README":   "open kernel modules\n",
		"nv-dma.c": "coherent alloc\n",
	}, base)
	b.branch("armsbc-580", patch)

	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))
	if err := repo.Storer.SetReference(head); err != nil {
		t.Fatalf("Failed to set fixture HEAD: %v", err)
	}
	return dir
}

func (b *forkFixture) blob(content string) plumbing.Hash {
	b.t.Helper()
	obj := b.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		b.t.Fatalf("Failed to get blob writer: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		b.t.Fatalf("Failed to write blob: %v", err)
	}
	if err := w.Close(); err != nil {
		b.t.Fatalf("Failed to close blob writer: %v", err)
	}
	hash, err := b.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		b.t.Fatalf("Failed to store blob: %v", err)
	}
	return hash
}

func (b *forkFixture) tree(files map[string]string) plumbing.Hash {
	b.t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	tree := &object.Tree{}
	for _, name := range names {
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: name,
			Mode: filemode.Regular,
			Hash: b.blob(files[name]),
		})
	}

	obj := b.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		b.t.Fatalf("Failed to encode tree: %v", err)
	}
	hash, err := b.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		b.t.Fatalf("Failed to store tree: %v", err)
	}
	return hash
}

func (b *forkFixture) commit(message string, files map[string]string, parents ...plumbing.Hash) plumbing.Hash {
	b.t.Helper()
	b.when = b.when.Add(time.Minute)
	sig := object.Signature{Name: "Fork Author", Email: "fork@example.com", When: b.when}

	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message + "\n",
		TreeHash:     b.tree(files),
		ParentHashes: parents,
	}

	obj := b.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		b.t.Fatalf("Failed to encode commit: %v", err)
	}
	hash, err := b.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		b.t.Fatalf("Failed to store commit: %v", err)
	}
	return hash
}

func (b *forkFixture) branch(name string, hash plumbing.Hash) {
	b.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	if err := b.repo.Storer.SetReference(ref); err != nil {
		b.t.Fatalf("Failed to set branch %s: %v", name, err)
	}
}

func TestRunBuildsDebEndToEnd(t *testing.T) {
	withOsRelease(t, "ID=ubuntu\nVERSION_ID=\"24.04\"\nVERSION_CODENAME=noble\n")

	originalExecutor := shell.Default
	defer func() { shell.Default = originalExecutor }()
	mock := shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "git apply", Output: "", Error: nil},
		{Pattern: "dpkg-deb", Output: "", Error: nil},
	})
	shell.Default = mock

	buildDir := t.TempDir()
	treeDir := filepath.Join(buildDir, "open-gpu-kernel-modules")
	if err := os.MkdirAll(filepath.Join(treeDir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(treeDir, "Makefile"), []byte("all:\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.ForkURL = newForkFixture(t)

	artifacts, err := pipeline.Run(cfg, pipeline.Options{
		NvidiaVersion: "580.95.05",
		OutputDir:     filepath.Join(t.TempDir(), "output"),
		BuildDir:      buildDir,
		SkipDownload:  true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(artifacts) != 1 || filepath.Base(artifacts[0]) != "nvidia-open-armsbc_580.95.05-1_arm64.deb" {
		t.Errorf("Unexpected artifacts %v", artifacts)
	}

	// the fork mirror is cached under its fixed name in the build directory
	if _, err := os.Stat(filepath.Join(buildDir, "armsbc-fork.git")); err != nil {
		t.Errorf("Expected fork mirror at <build-dir>/armsbc-fork.git: %v", err)
	}

	patches, err := filepath.Glob(filepath.Join(buildDir, "patches", "*.patch"))
	if err != nil || len(patches) != 1 {
		t.Errorf("Expected one materialized patch file, got %v (%v)", patches, err)
	}

	sawApply, sawDeb := false, false
	for _, call := range mock.Calls {
		if strings.Contains(call, "git apply") {
			sawApply = true
		}
		if strings.Contains(call, "dpkg-deb --build") {
			sawDeb = true
		}
	}
	if !sawApply || !sawDeb {
		t.Errorf("Expected patch apply and dpkg-deb invocations, got %v", mock.Calls)
	}
}

func TestRunLogsCarryRunID(t *testing.T) {
	withOsRelease(t, "ID=alpine\nVERSION_ID=\"3.20\"\n")

	core, logs := observer.New(zapcore.InfoLevel)
	restore := logger.Replace(zap.New(core).Sugar())
	defer restore()

	originalExecutor := shell.Default
	defer func() { shell.Default = originalExecutor }()
	shell.Default = shell.NewMockExecutor(nil)

	_, _ = pipeline.Run(config.Default(), pipeline.Options{
		OutputDir: t.TempDir(),
		BuildDir:  t.TempDir(),
	})

	entries := logs.All()
	if len(entries) == 0 {
		t.Fatal("Expected at least the run announcement to be logged")
	}
	for _, entry := range entries {
		run, ok := entry.ContextMap()["run"].(string)
		if !ok || run == "" {
			t.Errorf("Log entry %q missing the run id", entry.Message)
		}
	}
}
