package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClone(t *testing.T) {
	f := newGitFixture(t)
	tip := f.seed()
	path := filepath.Join(f.root, "nested", "clone")

	local, err := Clone(context.Background(), CloneRequest{
		URL:    f.originPath,
		Path:   path,
		Branch: "main",
		Core:   CoreSettings{Compression: 3, FileMode: true},
	}, nil)
	require.NoError(t, err)
	defer local.Close()

	head, err := local.Repo.Head()
	require.NoError(t, err)
	assert.Equal(t, tip, head.Hash())
	assert.Equal(t, "refs/heads/main", head.Name().String())

	remote, err := local.Repo.Remote(DefaultRemoteName)
	require.NoError(t, err)
	assert.Equal(t, []string{f.originPath}, remote.Config().URLs)

	cfg, err := local.Repo.Config()
	require.NoError(t, err)
	core := cfg.Raw.Section("core")
	assert.Equal(t, "20m", core.Option("bigFileThreshold"), "empty threshold falls back to the default")
	assert.Equal(t, "3", core.Option("compression"))
	assert.Equal(t, "true", core.Option("fileMode"))
}

func TestClone_CustomRemoteName(t *testing.T) {
	f := newGitFixture(t)
	f.seed()

	local, err := Clone(context.Background(), CloneRequest{
		URL:        f.originPath,
		Path:       filepath.Join(f.root, "clone"),
		RemoteName: "upstream",
	}, nil)
	require.NoError(t, err)
	defer local.Close()

	_, err = local.Repo.Remote("upstream")
	assert.NoError(t, err)
}

func TestClone_UnknownBranchRemovesDirectory(t *testing.T) {
	f := newGitFixture(t)
	f.seed()
	path := filepath.Join(f.root, "clone")

	_, err := Clone(context.Background(), CloneRequest{
		URL:    f.originPath,
		Path:   path,
		Branch: "no-such-branch",
	}, nil)
	require.Error(t, err)

	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, OpClone, se.Op)
	assert.NoDirExists(t, path)
}

func TestDefaultCoreSettings(t *testing.T) {
	got := DefaultCoreSettings()
	want := CoreSettings{BigFileThreshold: "20m", Compression: 0, FileMode: false}
	if got != want {
		t.Errorf("DefaultCoreSettings() = %+v, want %+v", got, want)
	}
}
