package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v6/plumbing"

	"deploysync/internal/logging"
	"deploysync/pkg/fileops"
)

// SyncMode tells whether a sync cloned or pulled.
type SyncMode string

const (
	ModeClone SyncMode = "clone"
	ModePull  SyncMode = "pull"
)

// ExecutionStatus is the outcome of a sync as reported to a deployment.
type ExecutionStatus int

const (
	StatusCloned ExecutionStatus = iota
	StatusPulledMerge
	StatusPulledRebase
	StatusUpToDate
	StatusFailed
)

// String returns a human-readable representation of the status.
func (s ExecutionStatus) String() string {
	switch s {
	case StatusCloned:
		return "cloned"
	case StatusPulledMerge:
		return "pulled via merge"
	case StatusPulledRebase:
		return "pulled via rebase"
	case StatusUpToDate:
		return "up-to-date"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ExecutionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Target is everything a Syncer needs to keep one working copy current.
type Target struct {
	Name        string
	Remote      RemoteDescriptor
	Branch      string
	LocalPath   string
	Strategy    Strategy
	Credentials RemoteCredentials
	Core        CoreSettings
	Identity    Identity
}

// Validate checks the target without touching the filesystem or network.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Remote.URL) == "" {
		return fmt.Errorf("remote URL cannot be empty")
	}
	if _, err := ParseRemoteURL(t.Remote.URL); err != nil {
		return err
	}
	if err := fileops.ValidatePathSecurity(fileops.ExpandPath(strings.TrimSpace(t.LocalPath))); err != nil {
		return fmt.Errorf("invalid local repository path: %w", err)
	}
	if _, err := ParseStrategy(string(t.Strategy)); err != nil {
		return err
	}
	return nil
}

// SyncResult reports one sync cycle. ChangeSet is nil when nothing was
// pulled; on a clone it lists every checked out file as created.
type SyncResult struct {
	Target    string             `json:"target" yaml:"target"`
	Mode      SyncMode           `json:"mode" yaml:"mode"`
	Status    ExecutionStatus    `json:"status" yaml:"status"`
	Details   string             `json:"details" yaml:"details"`
	Outcome   IntegrationOutcome `json:"-" yaml:"-"`
	ChangeSet *ChangeSet         `json:"changeSet,omitempty" yaml:"changeSet,omitempty"`
	OldHead   plumbing.Hash      `json:"-" yaml:"-"`
	NewHead   plumbing.Hash      `json:"-" yaml:"-"`
	Duration  time.Duration      `json:"duration" yaml:"duration"`
}

// Syncer clones or pulls a single target. It is not safe for concurrent
// use against the same local path; the scheduler serialises that.
type Syncer struct {
	target Target
	runner CommandRunner
	logger *logging.AppLogger
}

// NewSyncer returns a Syncer for target using the git binary for merges.
func NewSyncer(target Target, logger *logging.AppLogger) *Syncer {
	return &Syncer{
		target: target,
		runner: NewGitCLI(target.Identity),
		logger: logger.With("target", target.Name),
	}
}

// WithRunner replaces the command runner used for merge and rebase.
func (s *Syncer) WithRunner(r CommandRunner) *Syncer {
	s.runner = r
	return s
}

// Target returns the target the syncer was built for.
func (s *Syncer) Target() Target { return s.target }

// Sync brings the local working copy up to date with the remote.
//
// A missing, empty or non-repository local path is cloned; anything else
// is pulled. The returned result is never nil. On failure its Status is
// StatusFailed, Details carries the message and the error is a *SyncError.
//
// A failed clone leaves no local directory behind. A failed pull leaves the
// working copy as the failing step left it.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{Target: s.target.Name}

	finish := func(err error) (*SyncResult, error) {
		result.Duration = time.Since(start)
		if err != nil {
			result.Status = StatusFailed
			result.Details = err.Error()
			result.ChangeSet = nil
			s.logger.Error("Sync failed", "mode", result.Mode, "error", err, "duration", result.Duration)
			return result, err
		}
		s.logger.Info(result.Details, "status", result.Status.String(), "changes", result.ChangeSet.Len())
		s.logger.LogPerformance("sync", start)
		return result, nil
	}

	if err := s.target.Validate(); err != nil {
		return finish(newSyncError(OpValidate, s.target.LocalPath, s.target.Remote.URL, err))
	}

	path, err := fileops.ResolveRepositoryRoot(s.target.LocalPath)
	if err != nil {
		return finish(newSyncError(OpValidate, s.target.LocalPath, s.target.Remote.URL, err))
	}

	state, err := InspectLocal(path)
	if err != nil {
		return finish(newSyncError(OpOpen, path, s.target.Remote.URL, err))
	}

	if state.NeedsClone() {
		result.Mode = ModeClone
		return finish(s.clone(ctx, path, state, result))
	}
	result.Mode = ModePull
	return finish(s.pull(ctx, path, result))
}

func (s *Syncer) clone(ctx context.Context, path string, state LocalState, result *SyncResult) error {
	if state == LocalNotARepository {
		s.logger.Warn("Deleting existing folder before cloning", "path", path)
		if err := fileops.ForceRemoveAll(path); err != nil {
			return newSyncError(OpClone, path, s.target.Remote.URL, err)
		}
	}

	local, err := Clone(ctx, CloneRequest{
		URL:        s.target.Remote.URL,
		Path:       path,
		RemoteName: s.target.Remote.Name,
		Branch:     s.target.Branch,
		Auth:       SelectAuthStrategy(s.credentials()),
		Core:       s.target.Core,
	}, s.logger)
	if err != nil {
		return err
	}
	defer local.Close()

	head, err := local.Repo.Head()
	if err != nil {
		_ = local.Close()
		fileops.RemoveAllQuietly(path)
		return newSyncError(OpClone, path, s.target.Remote.URL, fmt.Errorf("cloned repository has no HEAD: %w", err))
	}

	changes, err := EnumerateAll(path)
	if err != nil {
		_ = local.Close()
		fileops.RemoveAllQuietly(path)
		return newSyncError(OpEnumerate, path, s.target.Remote.URL, err)
	}

	result.Status = StatusCloned
	result.NewHead = head.Hash()
	result.ChangeSet = changes
	result.Details = fmt.Sprintf("Successfully cloned Git remote repository %s into %s", RedactURL(s.target.Remote.URL), path)
	return nil
}

func (s *Syncer) pull(ctx context.Context, path string, result *SyncResult) error {
	remoteURL := s.target.Remote.URL

	local, err := OpenLocal(path)
	if err != nil {
		return newSyncError(OpOpen, path, remoteURL, err)
	}
	defer local.Close()

	change, err := EnsureRemote(local.Repo, s.target.Remote)
	if err != nil {
		return newSyncError(OpRemote, path, remoteURL, err)
	}
	if change != RemoteUnchanged {
		s.logger.Info("Remote registered", "remote", s.target.Remote.name(), "change", change.String(), "url", RedactURL(remoteURL))
	}

	strategy, err := ParseStrategy(string(s.target.Strategy))
	if err != nil {
		return newSyncError(OpValidate, path, remoteURL, err)
	}
	integrator := NewIntegrator(local.Repo, path, s.runner, s.logger)
	pull, err := integrator.Pull(ctx, PullRequest{
		RemoteName: s.target.Remote.name(),
		Branch:     s.target.Branch,
		Strategy:   strategy,
		Auth:       SelectAuthStrategy(s.credentials()),
	})
	if err != nil {
		var se *SyncError
		if errors.As(err, &se) && se.Remote == s.target.Remote.name() {
			se.Remote = remoteURL
		}
		return err
	}

	s.logger.DebugObject("pull result", pull)
	result.Outcome = pull.Outcome
	result.OldHead = pull.OldHead
	result.NewHead = pull.NewHead

	redacted := RedactURL(remoteURL)
	if pull.OldHead == pull.NewHead {
		result.Status = StatusUpToDate
		result.Details = fmt.Sprintf("Local repository %s up to date (no changes pulled from remote %s)", path, redacted)
		return nil
	}

	changes, err := DiffCommits(ctx, local.Repo, pull.OldHead, pull.NewHead)
	if err != nil {
		return newSyncError(OpDiff, path, remoteURL, err)
	}
	result.ChangeSet = changes

	switch {
	case pull.Outcome.Kind == OutcomeRebased || (strategy == StrategyRebase && pull.Outcome.Kind != OutcomeMerged):
		result.Status = StatusPulledRebase
	default:
		result.Status = StatusPulledMerge
	}

	if pull.Outcome.Kind == OutcomeMerged {
		result.Details = fmt.Sprintf("Changes from remote %s merged into local repository %s", redacted, path)
	} else {
		result.Details = fmt.Sprintf("Changes successfully pulled from remote %s into local repository %s", redacted, path)
	}
	if pull.ResetToBase {
		result.Details += fmt.Sprintf(" (local commits conflicting in %s were discarded)", strings.Join(pull.Speculation.Paths, ", "))
	}
	return nil
}

func (s *Syncer) credentials() RemoteCredentials {
	creds := s.target.Credentials
	creds.URL = s.target.Remote.URL
	return creds
}
