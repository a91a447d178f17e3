package pipeline

import (
	"context"

	"deploysync/internal/logging"
	"deploysync/internal/repository"
)

// GitPullProcessorName identifies the git stage in execution records.
const GitPullProcessorName = "gitPullProcessor"

// Syncer brings one local working copy up to date. *repository.Syncer
// implements it.
type Syncer interface {
	Sync(ctx context.Context) (*repository.SyncResult, error)
}

// GitPullProcessor clones or pulls the target repository and publishes the
// resulting change set on the deployment.
type GitPullProcessor struct {
	syncer Syncer
	logger *logging.AppLogger
}

func NewGitPullProcessor(syncer Syncer, logger *logging.AppLogger) *GitPullProcessor {
	return &GitPullProcessor{syncer: syncer, logger: logger}
}

func (p *GitPullProcessor) Name() string { return GitPullProcessorName }

// ShouldExecute gates the stage on the deployment still running.
func (p *GitPullProcessor) ShouldExecute(d *Deployment) bool {
	return d.IsRunning()
}

// FailDeploymentOnFailure is always true: later stages cannot run against
// a working copy that failed to sync.
func (p *GitPullProcessor) FailDeploymentOnFailure() bool { return true }

// Execute runs the sync and records it on d. The execution is also
// returned, with the sync error when it failed.
func (p *GitPullProcessor) Execute(ctx context.Context, d *Deployment) (*ProcessorExecution, error) {
	if !p.ShouldExecute(d) {
		return nil, nil
	}

	exec := newExecution(p.Name())
	d.addExecution(exec)

	result, err := p.syncer.Sync(ctx)
	if err != nil {
		var details string
		if result != nil {
			details = result.Details
		}
		d.finishExecution(exec, ExecutionFailure, failureDetails(details, err))
		return exec, err
	}

	d.finishExecution(exec, ExecutionSuccess, result.Details)
	d.setChangeSet(result.ChangeSet)

	p.logger.Debug("Git stage finished",
		"status", result.Status.String(),
		"mode", result.Mode,
		"changes", result.ChangeSet.Len(),
	)
	return exec, nil
}
