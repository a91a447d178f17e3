package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"deploysync/internal/config"
	"deploysync/internal/pipeline"
	"deploysync/internal/repository"
	"deploysync/internal/scheduler"
)

var (
	syncTargets []string
	syncAll     bool
	syncOutput  string

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Run one deployment for the selected targets",
		Long: `Clone or pull the selected targets once, sequentially, and print the
change set of every run. Exits non-zero when any deployment failed.`,
		RunE: runSync,
	}
)

func init() {
	syncCmd.Flags().StringSliceVarP(&syncTargets, "target", "t", nil, "Target to sync (repeatable)")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync every configured target")
	syncCmd.Flags().StringVarP(&syncOutput, "output", "o", "text", "Output format: text, json or yaml")
	syncCmd.MarkFlagsMutuallyExclusive("target", "all")
	syncCmd.MarkFlagsOneRequired("target", "all")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, span := otel.Tracer("deploysync/cmd").Start(cmd.Context(), "cmd.sync")
	defer span.End()

	format, err := parseOutputFormat(syncOutput)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		span.RecordError(err)
		return err
	}

	selected, err := selectTargets(cfg, syncTargets, syncAll)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("targets", len(selected.Targets)))

	jobs, err := scheduler.JobsFromConfig(selected, repository.NewCredentialManager(), appLogger)
	if err != nil {
		span.RecordError(err)
		return err
	}
	s, err := scheduler.New(jobs, appLogger)
	if err != nil {
		return err
	}

	runs := s.RunOnce(ctx)
	if err := writeRuns(os.Stdout, format, runs); err != nil {
		return err
	}

	if failed := countFailed(runs); failed > 0 {
		err := fmt.Errorf("%d of %d deployment(s) failed", failed, len(runs))
		span.RecordError(err)
		return err
	}
	return ctx.Err()
}

// selectTargets narrows cfg to the named targets, keeping config order.
func selectTargets(cfg *config.Config, names []string, all bool) (*config.Config, error) {
	if all {
		if len(cfg.Targets) == 0 {
			return nil, fmt.Errorf("no targets configured")
		}
		return cfg, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, err := cfg.Target(n); err != nil {
			return nil, err
		}
		want[n] = true
	}

	out := &config.Config{Version: cfg.Version}
	for _, t := range cfg.Targets {
		if want[t.Name] {
			out.Targets = append(out.Targets, t)
		}
	}
	return out, nil
}

func countFailed(runs []scheduler.Run) int {
	n := 0
	for _, r := range runs {
		if r.Deployment != nil && r.Deployment.CurrentStatus() == pipeline.DeploymentFailure {
			n++
		}
	}
	return n
}
