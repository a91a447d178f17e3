package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"go.opentelemetry.io/otel/attribute"

	"deploysync/internal/logging"
)

// Strategy selects how fetched history is integrated.
type Strategy string

const (
	StrategyMerge  Strategy = "merge"
	StrategyRebase Strategy = "rebase"
)

// ParseStrategy accepts "merge", "rebase" or "" (merge).
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyMerge:
		return StrategyMerge, nil
	case StrategyRebase:
		return StrategyRebase, nil
	default:
		return "", fmt.Errorf("unknown pull strategy %q (want merge or rebase)", s)
	}
}

// OutcomeKind is the recognised result of an integration.
type OutcomeKind int

const (
	OutcomeAlreadyUpToDate OutcomeKind = iota
	OutcomeFastForward
	OutcomeMerged
	OutcomeRebased
	OutcomeUnsupported
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAlreadyUpToDate:
		return "already-up-to-date"
	case OutcomeFastForward:
		return "fast-forward"
	case OutcomeMerged:
		return "merged"
	case OutcomeRebased:
		return "rebased"
	case OutcomeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// IntegrationOutcome is the classified status of a merge or rebase. Raw
// holds the native status text, which matters for OutcomeUnsupported.
type IntegrationOutcome struct {
	Kind OutcomeKind
	Raw  string
}

func (o IntegrationOutcome) String() string {
	if o.Kind == OutcomeUnsupported {
		return fmt.Sprintf("unsupported(%s)", o.Raw)
	}
	return o.Kind.String()
}

// FetchHead is the fetched remote tip.
type FetchHead struct {
	Ref  plumbing.ReferenceName
	Hash plumbing.Hash
}

// SpeculativeMerge is the result of the dry-run merge check. MergeBase is
// only set when Conflicts is true.
type SpeculativeMerge struct {
	Conflicts bool
	MergeBase plumbing.Hash
	Paths     []string
}

// Integrator brings a working copy up to date with a remote branch without
// ever leaving it conflicted. Each step is exposed on its own so callers can
// inspect the dry-run result before anything is mutated; Pull chains them.
//
// An Integrator assumes it is the only writer of the repository while it runs.
type Integrator struct {
	repo   *git.Repository
	dir    string
	runner CommandRunner
	logger *logging.AppLogger
}

// NewIntegrator wires an integrator for the working copy at dir. runner is
// only used when local and remote histories have diverged.
func NewIntegrator(repo *git.Repository, dir string, runner CommandRunner, logger *logging.AppLogger) *Integrator {
	if runner == nil {
		runner = NewGitCLI(DefaultIdentity)
	}
	return &Integrator{repo: repo, dir: dir, runner: runner, logger: logger}
}

// Fetch retrieves branch from remoteName into refs/remotes/<remote>/<branch>
// and returns that tip. An already up to date remote is not an error.
func (in *Integrator) Fetch(ctx context.Context, remoteName, branch string, auth AuthStrategy) (head FetchHead, err error) {
	ctx, span := startSpan(ctx, "fetch",
		attribute.String("repo.path", in.dir),
		attribute.String("repo.remote", remoteName),
		attribute.String("git.branch", branch),
		attribute.String("git.auth", auth.Kind().String()),
	)
	defer func() { finishSpan(span, err) }()

	method, err := auth.Method()
	if err != nil {
		return FetchHead{}, fmt.Errorf("failed to prepare %s credentials: %w", auth.Kind(), err)
	}

	remoteRef := plumbing.NewRemoteReferenceName(remoteName, branch)
	refSpec := config.RefSpec(fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(branch), remoteRef))

	in.logger.Debug("Fetching remote branch", "remote", remoteName, "branch", branch, "auth", auth.Kind())

	err = in.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       method,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return FetchHead{}, classifyTransportError(err)
	}
	err = nil

	ref, err := in.repo.Reference(remoteRef, true)
	if err != nil {
		return FetchHead{}, fmt.Errorf("branch %q not found on remote %s: %w", branch, remoteName, err)
	}

	return FetchHead{Ref: remoteRef, Hash: ref.Hash()}, nil
}

// Speculate checks, without touching the index, working tree or refs,
// whether merging tip into head would conflict. Linear histories are
// always clean; diverged histories are evaluated with git merge-tree.
func (in *Integrator) Speculate(ctx context.Context, head, tip plumbing.Hash) (result SpeculativeMerge, err error) {
	ctx, span := startSpan(ctx, "merge-check",
		attribute.String("repo.path", in.dir),
		attribute.String("git.head", head.String()),
		attribute.String("git.tip", tip.String()),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("git.conflicts", result.Conflicts))
		finishSpan(span, err)
	}()

	if head == tip {
		return SpeculativeMerge{}, nil
	}

	headCommit, err := in.repo.CommitObject(head)
	if err != nil {
		return SpeculativeMerge{}, fmt.Errorf("failed to load HEAD commit %s: %w", head, err)
	}
	tipCommit, err := in.repo.CommitObject(tip)
	if err != nil {
		return SpeculativeMerge{}, fmt.Errorf("failed to load fetched commit %s: %w", tip, err)
	}

	rel, err := relate(headCommit, tipCommit)
	if err != nil {
		return SpeculativeMerge{}, err
	}
	if rel != historyDiverged {
		return SpeculativeMerge{}, nil
	}

	base, err := mergeBase(headCommit, tipCommit)
	if err != nil {
		return SpeculativeMerge{}, err
	}

	conflicts, paths, err := in.mergeTree(ctx, base, head, tip)
	if err != nil {
		return SpeculativeMerge{}, err
	}
	if !conflicts {
		return SpeculativeMerge{}, nil
	}
	return SpeculativeMerge{Conflicts: true, MergeBase: base, Paths: paths}, nil
}

// mergeTree runs the in-memory three-way merge. git 2.38+ reports conflicts
// through the exit code of --write-tree; older versions fall back to the
// legacy three-argument form, whose output carries conflict markers.
func (in *Integrator) mergeTree(ctx context.Context, base, head, tip plumbing.Hash) (bool, []string, error) {
	res, err := in.runner.Run(ctx, in.dir, "merge-tree", "--write-tree", "--name-only", "--no-messages", head.String(), tip.String())
	if err != nil {
		return false, nil, err
	}

	switch res.ExitCode {
	case 0:
		return false, nil, nil
	case 1:
		return true, parseMergeTreeNames(res.Stdout), nil
	case 129:
		in.logger.Debug("git merge-tree --write-tree unsupported, using legacy form")
	default:
		return false, nil, fmt.Errorf("git merge-tree exited %d: %s", res.ExitCode, res.Output())
	}

	res, err = in.runner.Run(ctx, in.dir, "merge-tree", base.String(), head.String(), tip.String())
	if err != nil {
		return false, nil, err
	}
	if res.ExitCode != 0 {
		return false, nil, fmt.Errorf("git merge-tree exited %d: %s", res.ExitCode, res.Output())
	}
	if !strings.Contains(res.Stdout, "<<<<<<<") && !strings.Contains(res.Stdout, ">>>>>>>") {
		return false, nil, nil
	}
	return true, parseLegacyMergeTreeNames(res.Stdout), nil
}

// parseMergeTreeNames reads `merge-tree --write-tree --name-only` output:
// the tree id on the first line, then one conflicted path per line.
func parseMergeTreeNames(out string) []string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) <= 1 {
		return nil
	}
	var paths []string
	for _, line := range lines[1:] {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return dedupe(paths)
}

// parseLegacyMergeTreeNames collects the paths of "changed in both" blocks.
func parseLegacyMergeTreeNames(out string) []string {
	var paths []string
	inBoth := false
	for _, line := range strings.Split(out, "\n") {
		switch {
		case line == "changed in both":
			inBoth = true
		case inBoth && (strings.HasPrefix(line, "  our ") || strings.HasPrefix(line, "  their ")):
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				paths = append(paths, strings.Join(fields[3:], " "))
			}
		case !strings.HasPrefix(line, "  "):
			inBoth = false
		}
	}
	return dedupe(paths)
}

// ResetTo hard-resets the current branch, index and working tree to hash.
func (in *Integrator) ResetTo(ctx context.Context, hash plumbing.Hash) (err error) {
	_, span := startSpan(ctx, "reset",
		attribute.String("repo.path", in.dir),
		attribute.String("git.commit", hash.String()),
	)
	defer func() { finishSpan(span, err) }()

	wt, err := in.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get working tree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("failed to hard reset to %s: %w", hash, err)
	}
	return nil
}

// Integrate brings HEAD up to the fetched tip with the given strategy.
// Fast-forwards are applied in-process; diverged histories go through
// git merge or git rebase. Results outside the recognised set fail closed
// with ErrUnsupportedStatus. A failed merge or rebase is left exactly as
// git produced it.
func (in *Integrator) Integrate(ctx context.Context, strategy Strategy, tip FetchHead) (outcome IntegrationOutcome, err error) {
	ctx, span := startSpan(ctx, "integrate",
		attribute.String("repo.path", in.dir),
		attribute.String("git.strategy", string(strategy)),
		attribute.String("git.tip", tip.Hash.String()),
	)
	defer func() {
		span.SetAttributes(attribute.String("git.outcome", outcome.String()))
		finishSpan(span, err)
	}()

	head, err := in.head()
	if err != nil {
		return IntegrationOutcome{}, err
	}
	if head == tip.Hash {
		return IntegrationOutcome{Kind: OutcomeAlreadyUpToDate, Raw: "already-up-to-date"}, nil
	}

	headCommit, err := in.repo.CommitObject(head)
	if err != nil {
		return IntegrationOutcome{}, fmt.Errorf("failed to load HEAD commit %s: %w", head, err)
	}
	tipCommit, err := in.repo.CommitObject(tip.Hash)
	if err != nil {
		return IntegrationOutcome{}, fmt.Errorf("failed to load fetched commit %s: %w", tip.Hash, err)
	}

	rel, err := relate(headCommit, tipCommit)
	if err != nil {
		return IntegrationOutcome{}, err
	}

	switch rel {
	case historyAhead:
		return IntegrationOutcome{Kind: OutcomeAlreadyUpToDate, Raw: "already-up-to-date"}, nil
	case historyBehind:
		if err := in.ResetTo(ctx, tip.Hash); err != nil {
			return IntegrationOutcome{}, fmt.Errorf("fast-forward failed: %w", err)
		}
		return IntegrationOutcome{Kind: OutcomeFastForward, Raw: "fast-forward"}, nil
	}

	target := tip.Hash.String()
	if tip.Ref != "" {
		target = tip.Ref.String()
	}

	var args []string
	classify := classifyMergeOutput
	switch strategy {
	case StrategyRebase:
		args = []string{"rebase", target}
		classify = classifyRebaseOutput
	default:
		args = []string{"merge", "--no-edit", target}
	}

	res, err := in.runner.Run(ctx, in.dir, args...)
	if err != nil {
		return IntegrationOutcome{}, err
	}
	if res.ExitCode != 0 {
		return IntegrationOutcome{}, fmt.Errorf("%w: git %s exited %d: %s", ErrIntegrationFailed, args[0], res.ExitCode, res.Output())
	}

	outcome = classify(res.Output())
	if outcome.Kind == OutcomeUnsupported {
		return outcome, fmt.Errorf("%w: %q", ErrUnsupportedStatus, outcome.Raw)
	}

	// The tip must now be part of HEAD's history; anything else means git
	// did something other than what its status line claimed.
	newHead, err := in.head()
	if err != nil {
		return outcome, err
	}
	if newHead != tip.Hash {
		newCommit, err := in.repo.CommitObject(newHead)
		if err != nil {
			return outcome, fmt.Errorf("failed to load new HEAD %s: %w", newHead, err)
		}
		contains, err := tipCommit.IsAncestor(newCommit)
		if err != nil {
			return outcome, fmt.Errorf("failed to verify integration result: %w", err)
		}
		if !contains {
			return IntegrationOutcome{Kind: OutcomeUnsupported, Raw: outcome.Raw},
				fmt.Errorf("%w: HEAD %s does not contain %s after %s", ErrUnsupportedStatus, newHead, tip.Hash, args[0])
		}
	}

	return outcome, nil
}

func classifyMergeOutput(out string) IntegrationOutcome {
	raw := firstLine(out)
	switch {
	case strings.Contains(out, "Already up to date"), strings.Contains(out, "Already up-to-date"):
		return IntegrationOutcome{Kind: OutcomeAlreadyUpToDate, Raw: raw}
	case strings.Contains(out, "Fast-forward"):
		return IntegrationOutcome{Kind: OutcomeFastForward, Raw: raw}
	case strings.Contains(out, "Merge made by"):
		return IntegrationOutcome{Kind: OutcomeMerged, Raw: raw}
	default:
		return IntegrationOutcome{Kind: OutcomeUnsupported, Raw: raw}
	}
}

func classifyRebaseOutput(out string) IntegrationOutcome {
	raw := firstLine(out)
	switch {
	case strings.Contains(out, "Successfully rebased"):
		return IntegrationOutcome{Kind: OutcomeRebased, Raw: raw}
	case strings.Contains(out, "is up to date"):
		return IntegrationOutcome{Kind: OutcomeAlreadyUpToDate, Raw: raw}
	case strings.Contains(out, "Fast-forwarded"):
		return IntegrationOutcome{Kind: OutcomeFastForward, Raw: raw}
	default:
		return IntegrationOutcome{Kind: OutcomeUnsupported, Raw: raw}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// PullRequest describes one pull.
type PullRequest struct {
	RemoteName string
	// Branch may be empty, meaning the currently checked out branch.
	Branch   string
	Strategy Strategy
	Auth     AuthStrategy
}

// PullResult reports what a pull did.
type PullResult struct {
	Branch      string
	OldHead     plumbing.Hash
	NewHead     plumbing.Hash
	FetchHead   FetchHead
	Speculation SpeculativeMerge
	// ResetToBase is true when a predicted conflict rolled the branch back
	// to the merge base before integrating.
	ResetToBase bool
	Outcome     IntegrationOutcome
}

// Pull runs fetch, dry-run merge check, conflict fallback reset and
// integration in that order. Every error is a *SyncError naming the step.
func (in *Integrator) Pull(ctx context.Context, req PullRequest) (*PullResult, error) {
	fail := func(op Op, err error) (*PullResult, error) {
		return nil, newSyncError(op, in.dir, req.RemoteName, err)
	}

	if req.Auth == nil {
		req.Auth = NoAuth{}
	}

	oldHead, err := in.head()
	if err != nil {
		return fail(OpOpen, err)
	}

	branch, err := in.resolveBranch(req.Branch)
	if err != nil {
		return fail(OpOpen, err)
	}

	if err := in.ensureClean(); err != nil {
		return fail(OpOpen, err)
	}

	tip, err := in.Fetch(ctx, req.RemoteName, branch, req.Auth)
	if err != nil {
		return fail(OpFetch, err)
	}

	if err := in.checkoutBranch(branch, tip); err != nil {
		return fail(OpIntegrate, err)
	}

	head, err := in.head()
	if err != nil {
		return fail(OpOpen, err)
	}

	result := &PullResult{Branch: branch, OldHead: oldHead, FetchHead: tip}

	trial, err := in.Speculate(ctx, head, tip.Hash)
	if err != nil {
		return fail(OpSpeculate, err)
	}
	result.Speculation = trial

	if trial.Conflicts {
		in.logger.Warn("Local history conflicts with remote, resetting to merge base",
			"path", in.dir,
			"merge_base", trial.MergeBase.String(),
			"conflicts", strings.Join(trial.Paths, ","),
		)
		if err := in.ResetTo(ctx, trial.MergeBase); err != nil {
			return fail(OpReset, err)
		}
		result.ResetToBase = true
	}

	outcome, err := in.Integrate(ctx, req.Strategy, tip)
	result.Outcome = outcome
	if err != nil {
		return fail(OpIntegrate, err)
	}

	newHead, err := in.head()
	if err != nil {
		return fail(OpIntegrate, err)
	}
	result.NewHead = newHead

	in.logger.Debug("Pull finished",
		"path", in.dir,
		"outcome", outcome.String(),
		"old_head", oldHead.String(),
		"new_head", newHead.String(),
	)
	return result, nil
}

func (in *Integrator) head() (plumbing.Hash, error) {
	ref, err := in.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash(), nil
}

// resolveBranch returns configured, or the checked out branch when empty.
func (in *Integrator) resolveBranch(configured string) (string, error) {
	if b := strings.TrimSpace(configured); b != "" {
		return b, nil
	}
	ref, err := in.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !ref.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached and no branch is configured")
	}
	return ref.Name().Short(), nil
}

// ensureClean refuses to pull over uncommitted changes to tracked files.
// Untracked files are ignored.
func (in *Integrator) ensureClean() error {
	wt, err := in.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get working tree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("failed to get working tree status: %w", err)
	}

	var dirty []string
	for path, fs := range status {
		if fs.Staging == git.Untracked && fs.Worktree == git.Untracked {
			continue
		}
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		dirty = append(dirty, path)
	}
	if len(dirty) > 0 {
		return fmt.Errorf("%w: %s", ErrDirtyWorktree, strings.Join(dirty, ", "))
	}
	return nil
}

// checkoutBranch switches to branch when HEAD is elsewhere, creating the
// local branch at the fetched tip if it does not exist yet.
func (in *Integrator) checkoutBranch(branch string, tip FetchHead) error {
	head, err := in.repo.Head()
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("failed to get current branch: %w", err)
	}
	localRef := plumbing.NewBranchReferenceName(branch)
	if head != nil && head.Name() == localRef {
		return nil
	}

	if _, err := in.repo.Reference(localRef, true); errors.Is(err, plumbing.ErrReferenceNotFound) {
		if err := in.repo.Storer.SetReference(plumbing.NewHashReference(localRef, tip.Hash)); err != nil {
			return fmt.Errorf("failed to create local branch %s: %w", branch, err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to get local branch reference: %w", err)
	}

	wt, err := in.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get working tree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: localRef}); err != nil {
		return fmt.Errorf("failed to checkout branch %s: %w", branch, err)
	}

	in.logger.Info("Switched working copy branch", "path", in.dir, "branch", branch)
	return nil
}

type historyRelation int

const (
	historyEqual historyRelation = iota
	historyBehind                // head is an ancestor of tip
	historyAhead                 // tip is an ancestor of head
	historyDiverged
)

func relate(head, tip *object.Commit) (historyRelation, error) {
	if head.Hash == tip.Hash {
		return historyEqual, nil
	}
	behind, err := head.IsAncestor(tip)
	if err != nil {
		return 0, fmt.Errorf("failed to walk history: %w", err)
	}
	if behind {
		return historyBehind, nil
	}
	ahead, err := tip.IsAncestor(head)
	if err != nil {
		return 0, fmt.Errorf("failed to walk history: %w", err)
	}
	if ahead {
		return historyAhead, nil
	}
	return historyDiverged, nil
}

func mergeBase(a, b *object.Commit) (plumbing.Hash, error) {
	bases, err := a.MergeBase(b)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to compute merge base: %w", err)
	}
	if len(bases) == 0 {
		return plumbing.ZeroHash, ErrNoCommonAncestor
	}
	return bases[0].Hash, nil
}
