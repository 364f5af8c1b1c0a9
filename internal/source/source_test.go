package source_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scottjg/nvidia-armsbc/internal/source"
	"github.com/scottjg/nvidia-armsbc/internal/utils/shell"
)

func TestFetchSkipDownloadMissingTree(t *testing.T) {
	f := &source.Fetcher{
		UpstreamURL:  "https://example.com/open-gpu-kernel-modules",
		BuildDir:     t.TempDir(),
		SkipDownload: true,
	}

	_, err := f.Fetch("580.95.05")
	if !errors.Is(err, source.ErrSourceMissing) {
		t.Errorf("Expected ErrSourceMissing, got: %v", err)
	}
}

func TestFetchSkipDownloadReusesExistingTree(t *testing.T) {
	originalExecutor := shell.Default
	defer func() { shell.Default = originalExecutor }()

	// no patterns: any clone attempt would fail the test
	mock := shell.NewMockExecutor(nil)
	shell.Default = mock

	buildDir := t.TempDir()
	treeDir := filepath.Join(buildDir, "open-gpu-kernel-modules")
	if err := os.MkdirAll(filepath.Join(treeDir, ".git"), 0755); err != nil {
		t.Fatalf("Failed to create fixture tree: %v", err)
	}

	f := &source.Fetcher{UpstreamURL: "https://example.com/x", BuildDir: buildDir, SkipDownload: true}
	dir, err := f.Fetch("580.95.05")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if dir != treeDir {
		t.Errorf("Expected %s, got %s", treeDir, dir)
	}
	if len(mock.Calls) != 0 {
		t.Errorf("Expected no commands for a cached tree, got %v", mock.Calls)
	}
}

func TestFetchReplacesStaleTree(t *testing.T) {
	originalExecutor := shell.Default
	defer func() { shell.Default = originalExecutor }()

	mock := shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "git clone --depth 1 --branch 580.95.05", Output: "", Error: nil},
	})
	shell.Default = mock

	// leftover tree from an earlier run against another driver version
	buildDir := t.TempDir()
	treeDir := filepath.Join(buildDir, "open-gpu-kernel-modules")
	if err := os.MkdirAll(filepath.Join(treeDir, ".git"), 0755); err != nil {
		t.Fatalf("Failed to create fixture tree: %v", err)
	}
	marker := filepath.Join(treeDir, "VERSION")
	if err := os.WriteFile(marker, []byte("550.120\n"), 0644); err != nil {
		t.Fatal(err)
	}

	f := &source.Fetcher{UpstreamURL: "https://example.com/x", BuildDir: buildDir}
	dir, err := f.Fetch("580.95.05")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if dir != treeDir {
		t.Errorf("Expected %s, got %s", treeDir, dir)
	}

	if len(mock.Calls) != 1 || !strings.Contains(mock.Calls[0], "--branch 580.95.05") {
		t.Errorf("Expected the stale tree to be re-cloned at the new tag, got %v", mock.Calls)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("Expected the old version's tree to be removed before cloning")
	}
}

func TestFetchClonesAtTag(t *testing.T) {
	originalExecutor := shell.Default
	defer func() { shell.Default = originalExecutor }()

	mock := shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "git clone --depth 1 --branch 580.95.05", Output: "", Error: nil},
	})
	shell.Default = mock

	f := &source.Fetcher{UpstreamURL: "https://example.com/open-gpu-kernel-modules", BuildDir: t.TempDir()}
	dir, err := f.Fetch("580.95.05")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !strings.HasSuffix(dir, "open-gpu-kernel-modules") {
		t.Errorf("Unexpected tree path %s", dir)
	}
	if len(mock.Calls) != 1 || !strings.Contains(mock.Calls[0], "--branch 580.95.05") {
		t.Errorf("Expected a single tag clone, got %v", mock.Calls)
	}
}

func TestFetchCloneFailure(t *testing.T) {
	originalExecutor := shell.Default
	defer func() { shell.Default = originalExecutor }()

	shell.Default = shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "git clone", Output: "fatal: Remote branch not found", Error: errors.New("exit 128")},
	})

	f := &source.Fetcher{UpstreamURL: "https://example.com/x", BuildDir: t.TempDir()}
	if _, err := f.Fetch("999.0"); err == nil {
		t.Error("Expected error when the tag does not exist upstream")
	}
}
