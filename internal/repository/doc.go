// Package repository keeps a local git working copy in sync with a remote
// and reports which files each sync created, updated or deleted.
//
// # Architecture
//
// A sync cycle is built from small parts that can also be used alone:
//
//   - SelectAuthStrategy: picks none, HTTP basic, SSH password or SSH key
//     pair credentials from the remote URL and the configured secrets.
//   - EnsureRemote: creates the remote or rewrites its URL in place.
//   - Integrator: fetch, dry-run merge check, hard reset to the merge base
//     when the check predicts a conflict, then merge or rebase.
//   - DiffCommits / EnumerateAll: turn a pull or a clone into a ChangeSet.
//   - Syncer: chooses clone or pull and assembles a SyncResult.
//
// Typical usage:
//
//	syncer := repository.NewSyncer(repository.Target{
//	    Name:      "site",
//	    Remote:    repository.RemoteDescriptor{URL: "git@github.com:acme/site.git"},
//	    Branch:    "main",
//	    LocalPath: "/var/lib/deploysync/site",
//	    Strategy:  repository.StrategyMerge,
//	    Core:      repository.DefaultCoreSettings(),
//	}, logger)
//	res, err := syncer.Sync(ctx)
//	if err != nil {
//	    return err // *repository.SyncError, res.Status == StatusFailed
//	}
//	for _, p := range res.ChangeSet.CreatedPaths() { ... }
//
// # Conflict handling
//
// Conflicts always resolve in favour of the remote. Before anything is
// mutated the integrator asks git merge-tree whether HEAD and the fetched
// tip merge cleanly. If they do not, the local branch is hard reset to the
// merge base, discarding the divergent local commits, and the remote tip is
// then applied as a fast-forward. The working copy is never left with
// conflict markers.
//
// # Git backends
//
// Object access, clone, fetch, remotes, reset and tree diffs run in-process
// on go-git. Three-way merge checks, merges and rebases of diverged
// histories go through the git binary behind the CommandRunner interface,
// since go-git implements none of them. Linear histories never need the
// binary.
//
// # Errors
//
// Every failure of a cycle is a *SyncError naming the failed step (Op).
// Causes stay reachable through errors.Is / errors.As, for example
// ErrNoCommonAncestor, ErrUnsupportedStatus, ErrDirtyWorktree and
// ErrAuthentication. Error strings never contain credentials embedded in
// remote URLs.
//
// # Tracing
//
// Each git step opens an OpenTelemetry span named "git.<step>". Without a
// registered tracer provider the spans are no-ops.
package repository
