// Package fileops provides the filesystem helpers used around a git working
// copy: resolving and validating a configured location, enumerating the
// files of a fresh checkout, and tearing down a half-written clone.
//
// # Path Validation
//
// ResolveRepositoryRoot expands "~/", rejects traversal sequences and
// reserved system directories, and returns a clean absolute path:
//
//	root, err := fileops.ResolveRepositoryRoot(cfg.LocalRepoPath)
//	if err != nil {
//	    return fmt.Errorf("invalid local repository path: %w", err)
//	}
//
// # Tree Enumeration
//
// TreeScanner walks a directory inside an os.Root, so entries outside the
// scan root cannot be reached. Symlinks are listed as files and never
// followed. ListVisibleFiles skips every name starting with '.', which also
// keeps the .git metadata directory out of the result.
//
// # Removal
//
// ForceRemoveAll clears read-only bits when a plain os.RemoveAll fails.
// RemoveAllQuietly discards the error for cleanup paths where an earlier
// failure is the one worth reporting.
package fileops
