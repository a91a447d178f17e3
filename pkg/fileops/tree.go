package fileops

import (
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
)

// TreeScanOptions configures how a working tree is walked.
type TreeScanOptions struct {
	// IncludeHidden includes entries whose name starts with '.'. Hidden
	// directories are not descended into when false.
	IncludeHidden bool

	// MaxDepth limits recursion. Zero means unlimited.
	MaxDepth int

	// SkipUnreadable skips directories that cannot be opened or read
	// instead of failing the scan.
	SkipUnreadable bool
}

// TreeScanner walks a directory inside an os.Root so that no entry outside
// the scan root can be reached, even through symlinks. Symlinks are reported
// as files and never followed, which matches how git tracks them.
type TreeScanner struct {
	root     *os.Root
	opts     TreeScanOptions
	scanRoot string
}

// NewTreeScanner opens a scanner rooted at dir.
//
// Usage example:
//
//	scanner, err := fileops.NewTreeScanner("/srv/site", fileops.TreeScanOptions{})
//	if err != nil {
//	    return err
//	}
//	defer scanner.Close()
//	paths, err := scanner.Files()
func NewTreeScanner(dir string, opts TreeScanOptions) (*TreeScanner, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("scan path cannot be empty")
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot access scan path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan path is not a directory: %s", dir)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot create secure scan root: %w", err)
	}

	return &TreeScanner{root: root, opts: opts, scanRoot: dir}, nil
}

// Close releases the underlying root handle. It is safe to call twice.
func (s *TreeScanner) Close() error {
	if s.root != nil {
		err := s.root.Close()
		s.root = nil
		return err
	}
	return nil
}

// Files returns every non-directory entry below the scan root as a
// slash-separated path relative to the root, in directory-walk order
// (entries of a directory are visited in lexical order).
func (s *TreeScanner) Files() ([]string, error) {
	if s.root == nil {
		return nil, fmt.Errorf("scanner has been closed")
	}

	var files []string
	if err := s.walk(".", 1, &files); err != nil {
		return nil, fmt.Errorf("directory scan of %s failed: %w", s.scanRoot, err)
	}
	return files, nil
}

func (s *TreeScanner) walk(dir string, depth int, files *[]string) error {
	if s.opts.MaxDepth > 0 && depth > s.opts.MaxDepth {
		return nil
	}

	f, err := s.root.Open(dir)
	if err != nil {
		if s.opts.SkipUnreadable {
			return nil
		}
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}
	entries, err := f.ReadDir(-1)
	f.Close()
	if err != nil {
		if s.opts.SkipUnreadable {
			return nil
		}
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})

	for _, entry := range entries {
		name := entry.Name()
		if !s.opts.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}

		rel := name
		if dir != "." {
			rel = path.Join(dir, name)
		}

		// entry.IsDir is false for symlinks, so links are never followed.
		if entry.IsDir() {
			if err := s.walk(rel, depth+1, files); err != nil {
				return err
			}
			continue
		}
		*files = append(*files, rel)
	}

	return nil
}

// ListVisibleFiles is a convenience wrapper that lists every non-hidden
// file below dir, without a depth limit.
func ListVisibleFiles(dir string) ([]string, error) {
	scanner, err := NewTreeScanner(dir, TreeScanOptions{})
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	return scanner.Files()
}
