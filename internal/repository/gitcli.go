package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandResult is the outcome of one git invocation.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output returns stdout and stderr joined, trimmed of surrounding space.
func (r CommandResult) Output() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// CommandRunner runs git inside a working copy. A non-zero exit is reported
// through CommandResult.ExitCode; err is only set when git could not be
// started or ctx ended.
type CommandRunner interface {
	Run(ctx context.Context, dir string, args ...string) (CommandResult, error)
}

// Identity is the committer recorded on merge and rebase commits.
type Identity struct {
	Name  string
	Email string
}

// DefaultIdentity is used when no committer is configured.
var DefaultIdentity = Identity{Name: "deploysync", Email: "deploysync@localhost"}

// GitCLI is the os/exec backed CommandRunner. go-git has no three-way merge
// or rebase, so those steps shell out to the git binary.
type GitCLI struct {
	Binary   string
	Identity Identity
}

// NewGitCLI returns a runner for the git binary on PATH.
func NewGitCLI(identity Identity) *GitCLI {
	if identity.Name == "" || identity.Email == "" {
		identity = DefaultIdentity
	}
	return &GitCLI{Binary: "git", Identity: identity}
}

func (g *GitCLI) Run(ctx context.Context, dir string, args ...string) (CommandResult, error) {
	full := append([]string{
		"-c", "user.name=" + g.Identity.Name,
		"-c", "user.email=" + g.Identity.Email,
		"-c", "commit.gpgsign=false",
		"-c", "core.hooksPath=" + os.DevNull,
		"-c", "gc.auto=0",
	}, args...)

	cmd := exec.CommandContext(ctx, g.Binary, full...)
	cmd.Dir = dir
	// Output is parsed, so pin the locale and never prompt.
	cmd.Env = append(os.Environ(),
		"LC_ALL=C",
		"LANG=C",
		"GIT_TERMINAL_PROMPT=0",
		"GIT_EDITOR=true",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to run git %s: %w", strings.Join(args, " "), err)
	}
	return res, nil
}
