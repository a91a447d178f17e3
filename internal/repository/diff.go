package repository

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/utils/merkletrie"

	"deploysync/pkg/fileops"
)

// ChangeKind classifies one entry of a tree diff.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeModify
	ChangeDelete
	ChangeRename
	ChangeCopy
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeModify:
		return "modify"
	case ChangeDelete:
		return "delete"
	case ChangeRename:
		return "rename"
	case ChangeCopy:
		return "copy"
	default:
		return "unknown"
	}
}

// FileChange is one classified diff entry. OldPath is empty for adds,
// NewPath is empty for deletes.
type FileChange struct {
	Kind    ChangeKind
	OldPath string
	NewPath string
}

// DiffTrees compares two commits and classifies every path whose content
// changed. Renames are detected by content similarity. An added file whose
// blob is identical to a file that still exists unchanged at its old path
// is reported as a copy.
func DiffTrees(ctx context.Context, repo *git.Repository, oldHead, newHead plumbing.Hash) ([]FileChange, error) {
	oldTree, err := commitTree(repo, oldHead)
	if err != nil {
		return nil, err
	}
	newTree, err := commitTree(repo, newHead)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, oldTree, newTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", oldHead, newHead, err)
	}

	copySources, err := unchangedBlobs(oldTree, newTree)
	if err != nil {
		return nil, err
	}

	out := make([]FileChange, 0, len(changes))
	for _, change := range changes {
		fc, err := classifyChange(change, copySources)
		if err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, nil
}

func classifyChange(change *object.Change, copySources map[plumbing.Hash]string) (FileChange, error) {
	action, err := change.Action()
	if err != nil {
		return FileChange{}, fmt.Errorf("failed to classify change: %w", err)
	}

	switch action {
	case merkletrie.Insert:
		if _, ok := copySources[change.To.TreeEntry.Hash]; ok {
			return FileChange{Kind: ChangeCopy, NewPath: change.To.Name}, nil
		}
		return FileChange{Kind: ChangeAdd, NewPath: change.To.Name}, nil
	case merkletrie.Delete:
		return FileChange{Kind: ChangeDelete, OldPath: change.From.Name}, nil
	case merkletrie.Modify:
		if change.From.Name != change.To.Name {
			return FileChange{Kind: ChangeRename, OldPath: change.From.Name, NewPath: change.To.Name}, nil
		}
		return FileChange{Kind: ChangeModify, OldPath: change.From.Name, NewPath: change.To.Name}, nil
	default:
		return FileChange{}, fmt.Errorf("unexpected diff action %v", action)
	}
}

// unchangedBlobs maps blob hashes of files present with identical content at
// the same path in both trees. Those are the only possible copy sources.
func unchangedBlobs(oldTree, newTree *object.Tree) (map[plumbing.Hash]string, error) {
	sources := make(map[plumbing.Hash]string)

	err := oldTree.Files().ForEach(func(f *object.File) error {
		if !f.Mode.IsFile() {
			return nil
		}
		current, err := newTree.File(f.Name)
		if err != nil {
			return nil
		}
		if current.Hash == f.Hash {
			sources[f.Hash] = f.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index unchanged files: %w", err)
	}
	return sources, nil
}

// DiffCommits builds the change set between two commits:
//
//	add    -> created
//	modify -> updated
//	delete -> deleted
//	rename -> deleted (old) + created (new)
//	copy   -> created
func DiffCommits(ctx context.Context, repo *git.Repository, oldHead, newHead plumbing.Hash) (*ChangeSet, error) {
	changes, err := DiffTrees(ctx, repo, oldHead, newHead)
	if err != nil {
		return nil, err
	}

	var b changeSetBuilder
	for _, c := range changes {
		switch c.Kind {
		case ChangeAdd, ChangeCopy:
			b.create(c.NewPath)
		case ChangeModify:
			b.update(c.NewPath)
		case ChangeDelete:
			b.remove(c.OldPath)
		case ChangeRename:
			b.remove(c.OldPath)
			b.create(c.NewPath)
		}
	}
	return b.build(), nil
}

// EnumerateAll lists every non-hidden file of a fresh checkout as
// created. Hidden entries, the .git directory included, are skipped.
func EnumerateAll(root string) (*ChangeSet, error) {
	files, err := fileops.ListVisibleFiles(root)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", root, err)
	}
	return NewChangeSet(files, nil, nil), nil
}

func commitTree(repo *git.Repository, hash plumbing.Hash) (*object.Tree, error) {
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree of %s: %w", hash, err)
	}
	return tree, nil
}
