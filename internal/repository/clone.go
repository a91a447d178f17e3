package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"go.opentelemetry.io/otel/attribute"

	"deploysync/internal/logging"
	"deploysync/pkg/fileops"
)

// CoreSettings are written into the [core] section of every fresh clone.
// Content repositories carry large binary assets, so delta compression is
// skipped for big files and object compression is off.
type CoreSettings struct {
	BigFileThreshold string
	Compression      int
	FileMode         bool
}

// DefaultCoreSettings returns bigFileThreshold=20m, compression=0, fileMode=false.
func DefaultCoreSettings() CoreSettings {
	return CoreSettings{BigFileThreshold: "20m", Compression: 0, FileMode: false}
}

// CloneRequest describes a first-time checkout.
type CloneRequest struct {
	URL        string
	Path       string
	RemoteName string
	// Branch is checked out after the clone. Empty means the remote default.
	Branch string
	Auth   AuthStrategy
	Core   CoreSettings
}

// Clone checks out req.URL into req.Path and applies the core settings.
// The directory is created when missing. When any step fails the whole
// directory is removed, so a later sync starts from scratch instead of
// tripping over a half-written checkout.
func Clone(ctx context.Context, req CloneRequest, logger *logging.AppLogger) (local *LocalRepository, err error) {
	remoteName := RemoteDescriptor{Name: req.RemoteName}.name()
	if req.Auth == nil {
		req.Auth = NoAuth{}
	}

	ctx, span := startSpan(ctx, "clone",
		attribute.String("repo.path", req.Path),
		attribute.String("repo.remote", remoteName),
		attribute.String("git.branch", req.Branch),
		attribute.String("git.auth", req.Auth.Kind().String()),
	)
	defer func() { finishSpan(span, err) }()

	fail := func(op Op, cause error) (*LocalRepository, error) {
		if local != nil {
			_ = local.Close()
			local = nil
		}
		if !fileops.RemoveAllQuietly(req.Path) {
			logger.Warn("Failed to remove partial clone", "path", req.Path)
		}
		return nil, newSyncError(op, req.Path, req.URL, cause)
	}

	if err := fileops.EnsureDirectoryExists(req.Path); err != nil {
		return fail(OpClone, err)
	}

	method, err := req.Auth.Method()
	if err != nil {
		return fail(OpClone, fmt.Errorf("failed to prepare %s credentials: %w", req.Auth.Kind(), err))
	}

	opts := &git.CloneOptions{
		URL:        req.URL,
		Auth:       method,
		RemoteName: remoteName,
	}
	if b := strings.TrimSpace(req.Branch); b != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(b)
	}

	logger.Info("Cloning Git remote repository", "remote", RedactURL(req.URL), "path", req.Path, "branch", req.Branch)

	repo, err := git.PlainCloneContext(ctx, req.Path, opts)
	if err != nil {
		return fail(OpClone, classifyTransportError(err))
	}
	local = &LocalRepository{Path: req.Path, Repo: repo}

	if err := applyCoreSettings(repo, req.Core); err != nil {
		return fail(OpConfigure, err)
	}

	return local, nil
}

func applyCoreSettings(repo *git.Repository, core CoreSettings) error {
	if core.BigFileThreshold == "" {
		core.BigFileThreshold = DefaultCoreSettings().BigFileThreshold
	}

	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("failed to read repository config: %w", err)
	}
	cfg.Raw.Section("core").
		SetOption("bigFileThreshold", core.BigFileThreshold).
		SetOption("compression", strconv.Itoa(core.Compression)).
		SetOption("fileMode", strconv.FormatBool(core.FileMode))

	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("failed to write core settings: %w", err)
	}
	return nil
}
