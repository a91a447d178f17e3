package repository

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-git/v6"

	"deploysync/pkg/fileops"
)

// LocalState describes what currently sits at a target's local path.
type LocalState int

const (
	// LocalMissing means the path does not exist.
	LocalMissing LocalState = iota
	// LocalEmpty means the path is an empty directory.
	LocalEmpty
	// LocalNotARepository means the directory has content but no git metadata.
	LocalNotARepository
	// LocalRepositoryPresent means the directory is an openable working copy.
	LocalRepositoryPresent
)

func (s LocalState) String() string {
	switch s {
	case LocalMissing:
		return "missing"
	case LocalEmpty:
		return "empty"
	case LocalNotARepository:
		return "not-a-repository"
	case LocalRepositoryPresent:
		return "repository"
	default:
		return "unknown"
	}
}

// NeedsClone reports whether a sync at this state starts with a clone.
func (s LocalState) NeedsClone() bool {
	return s != LocalRepositoryPresent
}

// InspectLocal classifies path without modifying it.
func InspectLocal(path string) (LocalState, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return LocalMissing, nil
	}
	if err != nil {
		return LocalMissing, fmt.Errorf("cannot access %s: %w", path, err)
	}
	if !info.IsDir() {
		return LocalMissing, fmt.Errorf("local repository path is not a directory: %s", path)
	}

	empty, err := fileops.IsEmptyDir(path)
	if err != nil {
		return LocalMissing, err
	}
	if empty {
		return LocalEmpty, nil
	}

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return LocalNotARepository, nil
	}
	if err != nil {
		return LocalMissing, fmt.Errorf("cannot open git repository at %s: %w", path, err)
	}
	closeStorage(repo)
	return LocalRepositoryPresent, nil
}

// LocalRepository is an open working copy. Close must be called once the
// caller is done with it.
type LocalRepository struct {
	Path string
	Repo *git.Repository
}

// OpenLocal opens the working copy at path. A directory without git
// metadata yields ErrNotARepository.
func OpenLocal(path string) (*LocalRepository, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotARepository, path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open git repository at %s: %w", path, err)
	}
	return &LocalRepository{Path: path, Repo: repo}, nil
}

// Close releases file handles held by the object storage. It is safe to
// call more than once.
func (l *LocalRepository) Close() error {
	if l == nil || l.Repo == nil {
		return nil
	}
	err := closeStorage(l.Repo)
	l.Repo = nil
	return err
}

func closeStorage(repo *git.Repository) error {
	if c, ok := repo.Storer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
