package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
)

// DefaultRemoteName is used when a target does not name its remote.
const DefaultRemoteName = "origin"

// RemoteDescriptor names a remote and the URL it must point at.
type RemoteDescriptor struct {
	Name string
	URL  string
}

func (d RemoteDescriptor) name() string {
	if n := strings.TrimSpace(d.Name); n != "" {
		return n
	}
	return DefaultRemoteName
}

// RemoteChange reports what EnsureRemote did.
type RemoteChange int

const (
	RemoteUnchanged RemoteChange = iota
	RemoteCreated
	RemoteUpdated
)

func (c RemoteChange) String() string {
	switch c {
	case RemoteUnchanged:
		return "unchanged"
	case RemoteCreated:
		return "created"
	case RemoteUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// EnsureRemote makes the named remote exist and point at desc.URL.
//
// A missing remote is created with the default fetch refspec. An existing
// remote whose URL differs is rewritten in place, keeping its refspecs, so
// credential or host rotations never require a re-clone. Calling it again
// with the same descriptor is a no-op.
func EnsureRemote(repo *git.Repository, desc RemoteDescriptor) (RemoteChange, error) {
	name := desc.name()
	url := strings.TrimSpace(desc.URL)
	if url == "" {
		return RemoteUnchanged, fmt.Errorf("remote %s: URL cannot be empty", name)
	}

	remote, err := repo.Remote(name)
	if errors.Is(err, git.ErrRemoteNotFound) {
		_, err := repo.CreateRemote(&config.RemoteConfig{
			Name: name,
			URLs: []string{url},
		})
		if err != nil {
			return RemoteUnchanged, fmt.Errorf("failed to create remote %s: %w", name, err)
		}
		return RemoteCreated, nil
	}
	if err != nil {
		return RemoteUnchanged, fmt.Errorf("failed to read remote %s: %w", name, err)
	}

	if urls := remote.Config().URLs; len(urls) > 0 && urls[0] == url {
		return RemoteUnchanged, nil
	}

	cfg, err := repo.Config()
	if err != nil {
		return RemoteUnchanged, fmt.Errorf("failed to read repository config: %w", err)
	}
	rc, ok := cfg.Remotes[name]
	if !ok {
		return RemoteUnchanged, fmt.Errorf("remote %s disappeared from repository config", name)
	}
	rc.URLs = []string{url}

	if err := repo.SetConfig(cfg); err != nil {
		return RemoteUnchanged, fmt.Errorf("failed to update remote %s: %w", name, err)
	}
	return RemoteUpdated, nil
}
