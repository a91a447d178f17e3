package repository

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotARepository is returned when a path holds no git metadata.
	ErrNotARepository = errors.New("not a git repository")

	// ErrNoCommonAncestor is returned when local and remote histories share
	// no commit, so there is no safe point to roll back to.
	ErrNoCommonAncestor = errors.New("no common ancestor between local and remote history")

	// ErrUnsupportedStatus is returned when git reports a result the
	// integrator does not recognise.
	ErrUnsupportedStatus = errors.New("unsupported integration status")

	// ErrIntegrationFailed is returned when merge or rebase exits unsuccessfully.
	ErrIntegrationFailed = errors.New("integration failed")

	// ErrDirtyWorktree is returned when tracked files have uncommitted
	// changes that a pull would overwrite.
	ErrDirtyWorktree = errors.New("working tree has uncommitted changes")

	// ErrAuthentication marks transport failures caused by rejected credentials.
	ErrAuthentication = errors.New("authentication failed")
)

// Op names the step of a sync cycle that failed.
type Op string

const (
	OpValidate  Op = "validate"
	OpOpen      Op = "open"
	OpClone     Op = "clone"
	OpConfigure Op = "configure"
	OpEnumerate Op = "enumerate"
	OpRemote    Op = "register-remote"
	OpFetch     Op = "fetch"
	OpSpeculate Op = "merge-check"
	OpReset     Op = "reset"
	OpIntegrate Op = "integrate"
	OpDiff      Op = "diff"
)

// SyncError is the single failure type a sync cycle reports. It keeps the
// full cause chain reachable through errors.Is / errors.As and never prints
// credentials embedded in remote URLs.
type SyncError struct {
	Op     Op
	Path   string
	Remote string
	Err    error
}

func (e *SyncError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "git %s failed", e.Op)
	if e.Path != "" {
		fmt.Fprintf(&b, " for %s", e.Path)
	}
	if e.Remote != "" {
		fmt.Fprintf(&b, " (remote %s)", e.Remote)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return RedactURL(b.String())
}

func (e *SyncError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newSyncError(op Op, path, remote string, err error) *SyncError {
	return &SyncError{Op: op, Path: path, Remote: remote, Err: err}
}

// classifyTransportError adds actionable context to clone and fetch
// failures without hiding the underlying error.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "authentication required", "authorization failed", "401", "unauthorized", "403", "forbidden",
		"unable to authenticate", "permission denied (publickey"):
		return fmt.Errorf("%w: check remoteRepo credentials: %w", ErrAuthentication, err)
	case containsAny(msg, "repository not found", "404"):
		return fmt.Errorf("repository not found, check the URL or your access rights: %w", err)
	case containsAny(msg, "no such host", "connection refused", "timeout", "network is unreachable"):
		return fmt.Errorf("network error reaching remote: %w", err)
	}
	return err
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
