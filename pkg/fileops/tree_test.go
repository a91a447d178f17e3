package fileops

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
)

// createCheckoutTree creates a directory that looks like a fresh git checkout.
func createCheckoutTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"README.md":             "# Site",
		"index.html":            "<html></html>",
		"assets/site.css":       "body{}",
		"assets/img/logo.svg":   "<svg/>",
		"docs/guide.md":         "# Guide",
		".git/config":           "[core]",
		".git/objects/pack/x":   "pack",
		".github/workflows/a":   "on: push",
		".gitignore":            "*.log",
		"docs/.draft.md":        "draft",
		"node_modules/lib/a.js": "module.exports = {}",
	}

	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", rel, err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to create file %s: %v", rel, err)
		}
	}

	return root
}

func TestListVisibleFiles(t *testing.T) {
	root := createCheckoutTree(t)

	got, err := ListVisibleFiles(root)
	if err != nil {
		t.Fatalf("ListVisibleFiles() unexpected error: %v", err)
	}

	want := []string{
		"README.md",
		"assets/img/logo.svg",
		"assets/site.css",
		"docs/guide.md",
		"index.html",
		"node_modules/lib/a.js",
	}

	if !slices.Equal(got, want) {
		t.Errorf("ListVisibleFiles() = %v, want %v", got, want)
	}
}

func TestTreeScanner_IncludeHidden(t *testing.T) {
	root := createCheckoutTree(t)

	scanner, err := NewTreeScanner(root, TreeScanOptions{IncludeHidden: true})
	if err != nil {
		t.Fatalf("NewTreeScanner() unexpected error: %v", err)
	}
	defer scanner.Close()

	got, err := scanner.Files()
	if err != nil {
		t.Fatalf("Files() unexpected error: %v", err)
	}

	for _, hidden := range []string{".git/config", ".gitignore", "docs/.draft.md"} {
		if !slices.Contains(got, hidden) {
			t.Errorf("Files() with IncludeHidden missing %s, got %v", hidden, got)
		}
	}
}

func TestTreeScanner_MaxDepth(t *testing.T) {
	root := createCheckoutTree(t)

	scanner, err := NewTreeScanner(root, TreeScanOptions{MaxDepth: 1})
	if err != nil {
		t.Fatalf("NewTreeScanner() unexpected error: %v", err)
	}
	defer scanner.Close()

	got, err := scanner.Files()
	if err != nil {
		t.Fatalf("Files() unexpected error: %v", err)
	}

	want := []string{"README.md", "index.html"}
	if !slices.Equal(got, want) {
		t.Errorf("Files() with MaxDepth 1 = %v, want %v", got, want)
	}
}

func TestTreeScanner_SymlinksListedNotFollowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on Windows")
	}

	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write outside file: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	got, err := ListVisibleFiles(root)
	if err != nil {
		t.Fatalf("ListVisibleFiles() unexpected error: %v", err)
	}

	if !slices.Equal(got, []string{"link"}) {
		t.Errorf("ListVisibleFiles() = %v, want [link]", got)
	}
}

func TestNewTreeScanner_Errors(t *testing.T) {
	root := createCheckoutTree(t)

	tests := []struct {
		name      string
		path      string
		errorText string
	}{
		{"empty path", "", "cannot be empty"},
		{"missing directory", filepath.Join(root, "missing"), "cannot access scan path"},
		{"file instead of directory", filepath.Join(root, "README.md"), "not a directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner, err := NewTreeScanner(tt.path, TreeScanOptions{})
			if err == nil {
				scanner.Close()
				t.Fatalf("NewTreeScanner(%q) expected error", tt.path)
			}
			if !strings.Contains(err.Error(), tt.errorText) {
				t.Errorf("NewTreeScanner() error = %v, want error containing %q", err, tt.errorText)
			}
		})
	}
}

func TestTreeScanner_ClosedScanner(t *testing.T) {
	scanner, err := NewTreeScanner(t.TempDir(), TreeScanOptions{})
	if err != nil {
		t.Fatalf("NewTreeScanner() unexpected error: %v", err)
	}

	if err := scanner.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if err := scanner.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}

	if _, err := scanner.Files(); err == nil {
		t.Error("Files() on closed scanner should fail")
	}
}
