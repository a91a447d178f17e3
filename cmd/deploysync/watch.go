package main

import (
	"github.com/spf13/cobra"

	"deploysync/internal/pipeline"
	"deploysync/internal/repository"
	"deploysync/internal/scheduler"
)

var (
	watchRunNow bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Deploy every target on its schedule until interrupted",
		Long: `Run each target's deployment on its cron schedule (default "@every 5m").
Two deployments never touch the same local repository at once; a tick that
finds the repository busy is skipped.`,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchRunNow, "run-now", false, "Deploy every target once before waiting for the first tick")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jobs, err := scheduler.JobsFromConfig(cfg, repository.NewCredentialManager(), appLogger)
	if err != nil {
		return err
	}

	s, err := scheduler.New(jobs, appLogger, scheduler.WithRunHook(logRun))
	if err != nil {
		return err
	}

	if watchRunNow {
		for _, r := range s.RunOnce(ctx) {
			logRun(r)
		}
	}

	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

func logRun(r scheduler.Run) {
	if r.Skipped || r.Deployment == nil {
		return
	}
	d := r.Deployment
	if d.CurrentStatus() == pipeline.DeploymentFailure {
		appLogger.Error("Deployment failed", "target", r.Job, "executions", len(d.CurrentExecutions()))
		return
	}
	cs := d.CurrentChangeSet()
	appLogger.Info("Deployment succeeded",
		"target", r.Job,
		"created", len(cs.CreatedPaths()),
		"updated", len(cs.UpdatedPaths()),
		"deleted", len(cs.DeletedPaths()),
	)
}
