package pipeline

import (
	"context"

	"deploysync/internal/logging"
)

// Processor is one stage of a deployment.
//
// Execute returns a nil execution when the processor decided not to run.
// A returned error means the stage failed; whether that fails the whole
// deployment is up to FailDeploymentOnFailure.
type Processor interface {
	Name() string
	Execute(ctx context.Context, d *Deployment) (*ProcessorExecution, error)
	FailDeploymentOnFailure() bool
}

// Pipeline runs processors in order against a deployment.
type Pipeline struct {
	processors []Processor
	logger     *logging.AppLogger
}

func New(logger *logging.AppLogger, processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors, logger: logger}
}

// Run executes a new deployment for target and returns it once every
// processor has run or one has failed the deployment. The returned
// deployment is never nil and never left running.
func (p *Pipeline) Run(ctx context.Context, target string) *Deployment {
	d := NewDeployment(target)
	logger := p.logger.With("target", target)
	logger.Info("Deployment started")

	for _, proc := range p.processors {
		if err := ctx.Err(); err != nil {
			logger.Warn("Deployment cancelled", "error", err)
			d.end(DeploymentFailure)
			break
		}

		exec, err := proc.Execute(ctx, d)
		if exec == nil && err == nil {
			logger.Debug("Processor skipped", "processor", proc.Name())
			continue
		}
		if err != nil {
			logger.Error("Processor failed", "processor", proc.Name(), "error", err)
			if proc.FailDeploymentOnFailure() {
				d.end(DeploymentFailure)
				break
			}
		}
	}

	d.end(DeploymentSuccess)
	final := d.CurrentStatus()
	logger.LogStateTransition("deployment", DeploymentRunning.String(), final.String())
	logger.Info("Deployment finished",
		"status", final.String(),
		"changes", d.CurrentChangeSet().Len(),
		"duration", d.Elapsed(),
	)
	return d
}

// failureDetails prefers the details a stage already produced over the
// bare error text.
func failureDetails(details string, err error) string {
	if details != "" {
		return details
	}
	if err != nil {
		return err.Error()
	}
	return "processor failed"
}
