package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ExpandPath expands a leading "~/" to the current user's home directory.
// Paths without the prefix are returned unchanged.
//
// Usage example:
//
//	expanded := fileops.ExpandPath("~/deploy/site")
//	// Returns something like "/home/deploy/deploy/site"
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// ValidatePathSecurity performs static validation on a path coming from
// configuration. It rejects empty paths, traversal sequences and absolute
// paths that land inside a reserved system directory. No filesystem access
// happens beyond symlink resolution for the reserved check.
func ValidatePathSecurity(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}

	for _, part := range strings.FieldsFunc(path, isPathSeparator) {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed: %s", path)
		}
	}

	if filepath.IsAbs(path) && IsReservedDirectory(filepath.Clean(path)) {
		return fmt.Errorf("path is inside a reserved system directory: %s", path)
	}

	return nil
}

func isPathSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// ResolveRepositoryRoot turns a configured working copy location into a
// clean absolute path and verifies that it is safe to clone into.
//
// Parameters:
//   - path: Configured location, may start with "~/"
//
// Returns:
//   - string: Absolute, cleaned path
//   - error: Validation errors (empty, traversal, reserved, or an existing non-directory)
func ResolveRepositoryRoot(path string) (string, error) {
	expanded := ExpandPath(strings.TrimSpace(path))
	if err := ValidatePathSecurity(expanded); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	abs = filepath.Clean(abs)

	if IsReservedDirectory(abs) {
		return "", fmt.Errorf("path is inside a reserved system directory: %s", abs)
	}

	info, err := os.Stat(abs)
	if err == nil && !info.IsDir() {
		return "", fmt.Errorf("path exists and is not a directory: %s", abs)
	}

	return abs, nil
}

// IsReservedDirectory reports whether path is, or lives under, a system
// directory that must never hold a working copy. Symlinks are resolved
// before comparison so that /etc reached through a link is still caught.
func IsReservedDirectory(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return true
	}
	candidates := withResolved(filepath.Clean(absPath))

	for _, candidate := range candidates {
		if candidate == "/" || candidate == "\\" || strings.EqualFold(candidate, "C:\\") {
			return true
		}
	}

	for _, reserved := range getReservedDirectories() {
		for _, reservedAbs := range withResolved(filepath.Clean(reserved)) {
			prefix := strings.ToLower(reservedAbs) + string(os.PathSeparator)
			for _, candidate := range candidates {
				if strings.EqualFold(candidate, reservedAbs) ||
					strings.HasPrefix(strings.ToLower(candidate), prefix) {
					return true
				}
			}
		}
	}

	return false
}

// withResolved returns p and, when it differs, p with symlinks resolved.
func withResolved(p string) []string {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil || resolved == p {
		return []string{p}
	}
	return []string{p, filepath.Clean(resolved)}
}

// getReservedDirectories returns platform-specific reserved directories.
// /var/lib and /srv are deliberately absent: deployment hosts keep working
// copies there.
func getReservedDirectories() []string {
	var reservedDirs []string

	switch runtime.GOOS {
	case "windows":
		reservedDirs = []string{
			"C:\\Windows",
			"C:\\Program Files",
			"C:\\Program Files (x86)",
			"C:\\ProgramData\\Microsoft",
		}

	case "darwin":
		reservedDirs = []string{
			"/System",
			"/usr/bin",
			"/usr/sbin",
			"/bin",
			"/sbin",
			"/etc",
			"/var/log",
			"/var/db",
			"/var/root",
			"/Library/System",
			"/private/etc",
		}

	default:
		reservedDirs = []string{
			"/bin",
			"/sbin",
			"/usr/bin",
			"/usr/sbin",
			"/etc",
			"/boot",
			"/dev",
			"/proc",
			"/sys",
			"/var/log",
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		reservedDirs = append(reservedDirs,
			filepath.Join(home, ".ssh"),
			filepath.Join(home, ".gnupg"),
		)
	}

	return reservedDirs
}
