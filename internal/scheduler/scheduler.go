// Package scheduler runs deployments for every configured target on its
// cron schedule, never running two deployments against the same local
// repository at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"deploysync/internal/config"
	"deploysync/internal/logging"
	"deploysync/internal/pipeline"
	"deploysync/internal/repository"
)

// ErrBusy is reported when a deployment for the same local path is still
// running.
var ErrBusy = errors.New("local repository is busy")

// Runner executes one deployment. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, target string) *pipeline.Deployment
}

// Job binds a target to its schedule and the pipeline that deploys it.
type Job struct {
	Name      string
	Schedule  string
	LocalPath string
	Runner    Runner
}

// NewJob builds the deployment pipeline for a configured target. secrets
// may be nil when no target reads its password from the keyring.
func NewJob(t config.Target, secrets config.PasswordSource, logger *logging.AppLogger) (Job, error) {
	target, err := t.RepositoryTarget(secrets)
	if err != nil {
		return Job{}, err
	}
	schedule := t.Schedule
	if schedule == "" {
		schedule = config.DefaultSchedule
	}

	syncer := repository.NewSyncer(target, logger)
	return Job{
		Name:      t.Name,
		Schedule:  schedule,
		LocalPath: target.LocalPath,
		Runner:    pipeline.New(logger, pipeline.NewGitPullProcessor(syncer, logger)),
	}, nil
}

// JobsFromConfig builds one job per target in cfg order.
func JobsFromConfig(cfg *config.Config, secrets config.PasswordSource, logger *logging.AppLogger) ([]Job, error) {
	jobs := make([]Job, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		job, err := NewJob(t, secrets, logger)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Run is the outcome of one job invocation. Deployment is nil when the
// run was skipped.
type Run struct {
	Job        string               `json:"target" yaml:"target"`
	Deployment *pipeline.Deployment `json:"deployment,omitempty" yaml:"deployment,omitempty"`
	Skipped    bool                 `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Scheduler triggers jobs from cron expressions.
type Scheduler struct {
	jobs   []Job
	locks  *KeyedMutex
	logger *logging.AppLogger
	cron   *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	onRun   func(Run)
	started bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunHook registers fn to be called after every scheduled run,
// including skipped ones. fn runs on the cron goroutine.
func WithRunHook(fn func(Run)) Option {
	return func(s *Scheduler) { s.onRun = fn }
}

// New validates every schedule and registers the jobs. Nothing runs until
// Start.
func New(jobs []Job, logger *logging.AppLogger, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		jobs:   jobs,
		locks:  NewKeyedMutex(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	cronLog := cronLogger{logger}
	s.cron = cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog)),
	)

	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.trigger(job) }); err != nil {
			return nil, fmt.Errorf("invalid schedule %q for target %s: %w", job.Schedule, job.Name, err)
		}
	}
	return s, nil
}

// Start begins firing jobs. Deployments started by the scheduler are
// cancelled through ctx or Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.logger.Info("Scheduler started", "targets", len(s.jobs))
}

// Stop halts the scheduler, cancels running deployments and waits for them
// to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RunOnce deploys every job sequentially and returns one Run per job. A
// job whose repository is busy with a scheduled run is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) []Run {
	runs := make([]Run, 0, len(s.jobs))
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			break
		}
		run, _ := s.runJob(ctx, job)
		runs = append(runs, run)
	}
	return runs
}

func (s *Scheduler) trigger(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	run, _ := s.runJob(ctx, job)
	if s.onRun != nil {
		s.onRun(run)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (Run, error) {
	unlock, ok := s.locks.TryLock(job.LocalPath)
	if !ok {
		s.logger.Warn("Skipping run, previous deployment still in progress", "target", job.Name, "path", job.LocalPath)
		return Run{Job: job.Name, Skipped: true}, ErrBusy
	}
	defer unlock()

	return Run{Job: job.Name, Deployment: job.Runner.Run(ctx, job.Name)}, nil
}

// cronLogger adapts AppLogger to cron.Logger. cron's Info lines are
// scheduling chatter and go to debug.
type cronLogger struct {
	logger *logging.AppLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
