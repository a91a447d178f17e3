package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"

	"deploysync/internal/logging"
	"deploysync/internal/repository"
)

type fakeSyncer struct {
	result *repository.SyncResult
	err    error
	calls  int
}

func (f *fakeSyncer) Sync(context.Context) (*repository.SyncResult, error) {
	f.calls++
	return f.result, f.err
}

type recordingProcessor struct {
	name     string
	failWith error
	critical bool
	ran      bool
	seen     *repository.ChangeSet
}

func (r *recordingProcessor) Name() string                  { return r.name }
func (r *recordingProcessor) FailDeploymentOnFailure() bool { return r.critical }

func (r *recordingProcessor) Execute(_ context.Context, d *Deployment) (*ProcessorExecution, error) {
	if !d.IsRunning() {
		return nil, nil
	}
	r.ran = true
	r.seen = d.CurrentChangeSet()
	exec := newExecution(r.name)
	d.addExecution(exec)
	if r.failWith != nil {
		d.finishExecution(exec, ExecutionFailure, r.failWith.Error())
		return exec, r.failWith
	}
	d.finishExecution(exec, ExecutionSuccess, "ok")
	return exec, nil
}

func TestGitPullProcessor_Success(t *testing.T) {
	cs := repository.NewChangeSet([]string{"a.txt"}, []string{"b.txt"}, nil)
	syncer := &fakeSyncer{result: &repository.SyncResult{
		Mode:      repository.ModePull,
		Status:    repository.StatusPulledMerge,
		Details:   "Changes successfully pulled from remote r into local repository l",
		ChangeSet: cs,
	}}
	p := NewGitPullProcessor(syncer, nil)
	d := NewDeployment("site")

	exec, err := p.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if exec.Processor != GitPullProcessorName {
		t.Errorf("Processor = %q, want %q", exec.Processor, GitPullProcessorName)
	}
	if exec.Status != ExecutionSuccess {
		t.Errorf("Status = %v, want success", exec.Status)
	}
	if exec.StatusDetails != syncer.result.Details {
		t.Errorf("StatusDetails = %q, want %q", exec.StatusDetails, syncer.result.Details)
	}
	if exec.End.Before(exec.Start) {
		t.Error("End should not precede Start")
	}
	if d.CurrentChangeSet() != cs {
		t.Error("change set should be published on the deployment")
	}
	if len(d.Executions) != 1 || d.Executions[0] != exec {
		t.Errorf("Executions = %v, want the single execution", d.Executions)
	}
	if !d.IsRunning() {
		t.Error("the processor must not end the deployment itself")
	}
}

func TestGitPullProcessor_UpToDateLeavesNilChangeSet(t *testing.T) {
	syncer := &fakeSyncer{result: &repository.SyncResult{
		Mode:    repository.ModePull,
		Status:  repository.StatusUpToDate,
		Details: "Local repository l up to date (no changes pulled from remote r)",
	}}
	d := NewDeployment("site")

	if _, err := NewGitPullProcessor(syncer, nil).Execute(context.Background(), d); err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if d.CurrentChangeSet() != nil {
		t.Errorf("ChangeSet = %v, want nil", d.CurrentChangeSet())
	}
}

func TestGitPullProcessor_Failure(t *testing.T) {
	syncErr := errors.New("fetch failed")
	syncer := &fakeSyncer{
		result: &repository.SyncResult{Status: repository.StatusFailed, Details: "fetch of origin failed"},
		err:    syncErr,
	}
	p := NewGitPullProcessor(syncer, nil)
	d := NewDeployment("site")

	exec, err := p.Execute(context.Background(), d)
	if !errors.Is(err, syncErr) {
		t.Fatalf("Execute() error = %v, want %v", err, syncErr)
	}
	if exec == nil || exec.Status != ExecutionFailure {
		t.Fatalf("execution = %+v, want failure", exec)
	}
	if exec.StatusDetails != "fetch of origin failed" {
		t.Errorf("StatusDetails = %q", exec.StatusDetails)
	}
	if !p.FailDeploymentOnFailure() {
		t.Error("FailDeploymentOnFailure() should always be true")
	}
}

func TestGitPullProcessor_FailureWithoutResult(t *testing.T) {
	p := NewGitPullProcessor(&fakeSyncer{err: errors.New("boom")}, nil)

	exec, err := p.Execute(context.Background(), NewDeployment("site"))
	if err == nil {
		t.Fatal("Execute() expected error")
	}
	if exec.StatusDetails != "boom" {
		t.Errorf("StatusDetails = %q, want the error text", exec.StatusDetails)
	}
}

func TestGitPullProcessor_SkipsWhenNotRunning(t *testing.T) {
	syncer := &fakeSyncer{}
	p := NewGitPullProcessor(syncer, nil)
	d := NewDeployment("site")
	d.end(DeploymentFailure)

	if p.ShouldExecute(d) {
		t.Error("ShouldExecute() = true for a finished deployment")
	}
	exec, err := p.Execute(context.Background(), d)
	if exec != nil || err != nil {
		t.Errorf("Execute() = (%v, %v), want (nil, nil)", exec, err)
	}
	if syncer.calls != 0 {
		t.Errorf("Sync called %d times, want 0", syncer.calls)
	}
}

func TestPipeline_Run(t *testing.T) {
	cs := repository.NewChangeSet([]string{"a.txt"}, nil, nil)
	gitStage := NewGitPullProcessor(&fakeSyncer{result: &repository.SyncResult{Details: "cloned", ChangeSet: cs}}, nil)
	next := &recordingProcessor{name: "next"}

	logger, buf := logging.NewTestLogger()
	d := New(logger, gitStage, next).Run(context.Background(), "site")

	if d.CurrentStatus() != DeploymentSuccess {
		t.Errorf("Status = %v, want success", d.CurrentStatus())
	}
	if !next.ran || next.seen != cs {
		t.Error("later processors should see the git change set")
	}
	if len(d.Executions) != 2 {
		t.Errorf("Executions = %d, want 2", len(d.Executions))
	}
	if d.End.IsZero() {
		t.Error("End should be set")
	}
	if !strings.Contains(buf.String(), "Deployment finished") {
		t.Errorf("log output missing completion line: %s", buf.String())
	}
	for _, want := range []string{"State transition", "component=deployment", "from=running", "to=success"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log output missing %q: %s", want, buf.String())
		}
	}
}

func TestPipeline_GitFailureStopsDeployment(t *testing.T) {
	gitStage := NewGitPullProcessor(&fakeSyncer{err: errors.New("clone failed")}, nil)
	next := &recordingProcessor{name: "next"}

	d := New(nil, gitStage, next).Run(context.Background(), "site")

	if d.CurrentStatus() != DeploymentFailure {
		t.Errorf("Status = %v, want failure", d.CurrentStatus())
	}
	if next.ran {
		t.Error("processors after a failed git stage must not run")
	}
	if len(d.Executions) != 1 || d.Executions[0].Status != ExecutionFailure {
		t.Errorf("Executions = %+v", d.Executions)
	}
}

func TestPipeline_NonCriticalFailureContinues(t *testing.T) {
	flaky := &recordingProcessor{name: "notify", failWith: errors.New("smtp down")}
	last := &recordingProcessor{name: "last"}

	d := New(nil, flaky, last).Run(context.Background(), "site")

	if d.CurrentStatus() != DeploymentSuccess {
		t.Errorf("Status = %v, want success", d.CurrentStatus())
	}
	if !last.ran {
		t.Error("a non-critical failure should not stop the pipeline")
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	syncer := &fakeSyncer{}

	d := New(nil, NewGitPullProcessor(syncer, nil)).Run(ctx, "site")

	if d.CurrentStatus() != DeploymentFailure {
		t.Errorf("Status = %v, want failure", d.CurrentStatus())
	}
	if syncer.calls != 0 {
		t.Error("no processor should run after cancellation")
	}
}

func TestDeployment_EndKeepsFirstStatus(t *testing.T) {
	d := NewDeployment("site")
	d.end(DeploymentFailure)
	d.end(DeploymentSuccess)
	if d.CurrentStatus() != DeploymentFailure {
		t.Errorf("Status = %v, want failure", d.CurrentStatus())
	}
}

func TestStatusStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DeploymentRunning.String(), "running"},
		{DeploymentSuccess.String(), "success"},
		{DeploymentFailure.String(), "failure"},
		{DeploymentStatus(9).String(), "unknown"},
		{ExecutionRunning.String(), "running"},
		{ExecutionSuccess.String(), "success"},
		{ExecutionFailure.String(), "failure"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestProcessorExecution_Duration(t *testing.T) {
	e := newExecution("x")
	if e.Duration() != 0 {
		t.Errorf("Duration() = %v while running, want 0", e.Duration())
	}
	e.End = e.Start.Add(2 * time.Second)
	if e.Duration() != 2*time.Second {
		t.Errorf("Duration() = %v, want 2s", e.Duration())
	}
}

func TestDeployment_Elapsed(t *testing.T) {
	d := NewDeployment("site")
	if d.Elapsed() != 0 {
		t.Errorf("Elapsed() = %v while running, want 0", d.Elapsed())
	}
	d.end(DeploymentSuccess)
	if got, want := d.Elapsed(), d.End.Sub(d.Start); got != want {
		t.Errorf("Elapsed() = %v, want %v", got, want)
	}
}

// blockingProcessor holds its execution open until release is closed.
type blockingProcessor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingProcessor) Name() string                  { return "blocking" }
func (b *blockingProcessor) FailDeploymentOnFailure() bool { return false }

func (b *blockingProcessor) Execute(_ context.Context, d *Deployment) (*ProcessorExecution, error) {
	exec := newExecution(b.Name())
	d.addExecution(exec)
	close(b.started)
	<-b.release
	d.finishExecution(exec, ExecutionSuccess, "released")
	return exec, nil
}

func TestDeployment_ConcurrentReaders(t *testing.T) {
	cs := repository.NewChangeSet([]string{"a.txt"}, nil, nil)
	gitStage := NewGitPullProcessor(&fakeSyncer{result: &repository.SyncResult{Details: "cloned", ChangeSet: cs}}, nil)
	block := &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})}

	done := make(chan *Deployment)
	var (
		mu      sync.Mutex
		current *Deployment
	)
	watch := make(chan struct{})
	go func() {
		done <- New(nil, gitStage, &watchingProcessor{publish: func(d *Deployment) {
			mu.Lock()
			current = d
			mu.Unlock()
			close(watch)
		}}, block).Run(context.Background(), "site")
	}()

	<-watch
	<-block.started
	mu.Lock()
	d := current
	mu.Unlock()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = d.CurrentStatus()
			_ = d.CurrentChangeSet()
			_ = d.Elapsed()
			for _, e := range d.CurrentExecutions() {
				_ = e.Status
				_ = e.End
			}
		}
	}()

	close(block.release)
	final := <-done
	close(stop)
	wg.Wait()

	if final != d {
		t.Fatal("watcher observed a different deployment")
	}
	execs := final.CurrentExecutions()
	if len(execs) != 2 {
		t.Fatalf("CurrentExecutions() = %d, want 2", len(execs))
	}
	if execs[1].Status != ExecutionSuccess || execs[1].StatusDetails != "released" {
		t.Errorf("blocking execution = %+v, want success/released", execs[1])
	}
	if final.CurrentStatus() != DeploymentSuccess {
		t.Errorf("Status = %v, want success", final.CurrentStatus())
	}
}

// watchingProcessor hands the running deployment to a reader and skips.
type watchingProcessor struct {
	publish func(*Deployment)
}

func (w *watchingProcessor) Name() string                  { return "watching" }
func (w *watchingProcessor) FailDeploymentOnFailure() bool { return false }

func (w *watchingProcessor) Execute(_ context.Context, d *Deployment) (*ProcessorExecution, error) {
	w.publish(d)
	return nil, nil
}

func TestDeployment_MarshalJSON(t *testing.T) {
	d := NewDeployment("site")
	d.setChangeSet(repository.NewChangeSet([]string{"a.txt"}, nil, nil))
	d.end(DeploymentSuccess)

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	for _, want := range []string{`"status":"success"`, `"createdFiles":["a.txt"]`, `"target":"site"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON %s missing %s", data, want)
		}
	}
}

// TestPipeline_CloneThenUpToDate drives the real syncer against a local
// origin: the first deployment clones, the second finds nothing to pull.
func TestPipeline_CloneThenUpToDate(t *testing.T) {
	root := t.TempDir()
	origin := filepath.Join(root, "origin")
	repo, err := git.PlainInit(origin, false)
	if err != nil {
		t.Fatalf("PlainInit() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(origin, "index.html"), []byte("<h1>hi</h1>\n"), 0644); err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("index.html"); err != nil {
		t.Fatal(err)
	}
	sig := &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()}
	if _, err := wt.Commit("initial", &git.CommitOptions{Author: sig, Committer: sig}); err != nil {
		t.Fatal(err)
	}

	target := repository.Target{
		Name:      "site",
		Remote:    repository.RemoteDescriptor{URL: origin},
		LocalPath: filepath.Join(root, "deploy", "site"),
		Strategy:  repository.StrategyMerge,
		Core:      repository.DefaultCoreSettings(),
	}
	p := New(nil, NewGitPullProcessor(repository.NewSyncer(target, nil), nil))

	first := p.Run(context.Background(), "site")
	if first.CurrentStatus() != DeploymentSuccess {
		t.Fatalf("first deployment = %v: %+v", first.CurrentStatus(), first.Executions[0])
	}
	if got := first.CurrentChangeSet().CreatedPaths(); len(got) != 1 || got[0] != "index.html" {
		t.Errorf("CreatedPaths() = %v, want [index.html]", got)
	}

	second := p.Run(context.Background(), "site")
	if second.CurrentStatus() != DeploymentSuccess {
		t.Fatalf("second deployment = %v: %+v", second.CurrentStatus(), second.Executions[0])
	}
	if second.CurrentChangeSet() != nil {
		t.Errorf("ChangeSet = %v, want nil when up to date", second.CurrentChangeSet())
	}
	if !strings.Contains(second.Executions[0].StatusDetails, "up to date") {
		t.Errorf("StatusDetails = %q", second.Executions[0].StatusDetails)
	}
}
