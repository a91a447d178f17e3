package repository

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"

	"deploysync/internal/logging"
)

// gitFixture is a bare "origin" repository plus an author working copy that
// pushes to it. Tests clone origin through the code under test and use the
// author to publish new remote commits.
type gitFixture struct {
	t          *testing.T
	root       string
	originPath string
	authorPath string
	author     *git.Repository
}

func newGitFixture(t *testing.T) *gitFixture {
	t.Helper()

	root := t.TempDir()
	f := &gitFixture{
		t:          t,
		root:       root,
		originPath: filepath.Join(root, "origin.git"),
		authorPath: filepath.Join(root, "author"),
	}

	origin, err := git.PlainInit(f.originPath, true)
	if err != nil {
		t.Fatalf("failed to init bare origin: %v", err)
	}
	setHeadToMain(t, origin)

	f.author, err = git.PlainInit(f.authorPath, false)
	if err != nil {
		t.Fatalf("failed to init author repo: %v", err)
	}
	setHeadToMain(t, f.author)

	_, err = f.author.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{f.originPath},
	})
	if err != nil {
		t.Fatalf("failed to create origin remote: %v", err)
	}
	return f
}

func setHeadToMain(t *testing.T, repo *git.Repository) {
	t.Helper()
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))
	if err := repo.Storer.SetReference(head); err != nil {
		t.Fatalf("failed to point HEAD at main: %v", err)
	}
}

// seed publishes the standard two-file history: a.txt and dir/b.txt.
func (f *gitFixture) seed() plumbing.Hash {
	f.t.Helper()
	f.write("a.txt", "alpha line one\nalpha line two\nalpha line three\n")
	f.write("dir/b.txt", "bravo line one\nbravo line two\nbravo line three\n")
	return f.commitAndPush("initial content")
}

func (f *gitFixture) write(rel, content string) {
	f.t.Helper()
	writeAndStage(f.t, f.author, f.authorPath, rel, content)
}

func (f *gitFixture) remove(rel string) {
	f.t.Helper()
	wt := worktreeOf(f.t, f.author)
	if _, err := wt.Remove(rel); err != nil {
		f.t.Fatalf("failed to remove %s: %v", rel, err)
	}
}

func (f *gitFixture) rename(from, to string) {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.authorPath, filepath.FromSlash(from)))
	if err != nil {
		f.t.Fatalf("failed to read %s: %v", from, err)
	}
	f.remove(from)
	f.write(to, string(data))
}

func (f *gitFixture) commitAndPush(msg string) plumbing.Hash {
	f.t.Helper()
	hash := commitAll(f.t, f.author, msg)

	err := f.author.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"refs/heads/main:refs/heads/main"},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		f.t.Fatalf("failed to push to origin: %v", err)
	}
	return hash
}

// target returns a sync target that clones origin into a fresh directory.
func (f *gitFixture) target(name string) Target {
	return Target{
		Name:      name,
		Remote:    RemoteDescriptor{Name: "origin", URL: f.originPath},
		Branch:    "main",
		LocalPath: filepath.Join(f.root, name),
		Strategy:  StrategyMerge,
		Core:      DefaultCoreSettings(),
	}
}

func writeAndStage(t *testing.T, repo *git.Repository, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", rel, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", rel, err)
	}
	if _, err := worktreeOf(t, repo).Add(rel); err != nil {
		t.Fatalf("failed to stage %s: %v", rel, err)
	}
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func commitAll(t *testing.T, repo *git.Repository, msg string) plumbing.Hash {
	t.Helper()
	hash, err := worktreeOf(t, repo).Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test User",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("failed to commit %q: %v", msg, err)
	}
	return hash
}

func worktreeOf(t *testing.T, repo *git.Repository) *git.Worktree {
	t.Helper()
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}
	return wt
}

func headOf(t *testing.T, path string) plumbing.Hash {
	t.Helper()
	repo, err := git.PlainOpen(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer closeStorage(repo)
	ref, err := repo.Head()
	if err != nil {
		t.Fatalf("failed to resolve HEAD of %s: %v", path, err)
	}
	return ref.Hash()
}

func requireGitBinary(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not found on PATH")
	}
}

func newTestSyncer(t *testing.T, target Target) *Syncer {
	t.Helper()
	logger, _ := logging.NewTestLogger()
	return NewSyncer(target, logger)
}

func mustSync(t *testing.T, s *Syncer) *SyncResult {
	t.Helper()
	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() unexpected error: %v", err)
	}
	return res
}

// fakeRunner returns canned results keyed by the git subcommand.
type fakeRunner struct {
	results map[string][]CommandResult
	calls   [][]string
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) (CommandResult, error) {
	f.calls = append(f.calls, args)
	queue := f.results[args[0]]
	if len(queue) == 0 {
		return CommandResult{ExitCode: 0}, nil
	}
	res := queue[0]
	f.results[args[0]] = queue[1:]
	return res, nil
}
