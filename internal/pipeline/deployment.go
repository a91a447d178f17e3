// Package pipeline runs a deployment for a target as an ordered list of
// processors. The git pull stage is the first processor of every
// deployment; it produces the change set later stages consume.
package pipeline

import (
	"sync"
	"time"

	"deploysync/internal/repository"
)

// DeploymentStatus is the lifecycle state of a Deployment.
type DeploymentStatus int

const (
	DeploymentRunning DeploymentStatus = iota
	DeploymentSuccess
	DeploymentFailure
)

func (s DeploymentStatus) String() string {
	switch s {
	case DeploymentRunning:
		return "running"
	case DeploymentSuccess:
		return "success"
	case DeploymentFailure:
		return "failure"
	default:
		return "unknown"
	}
}

func (s DeploymentStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ExecutionStatus is the outcome of a single processor run.
type ExecutionStatus int

const (
	ExecutionRunning ExecutionStatus = iota
	ExecutionSuccess
	ExecutionFailure
)

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionRunning:
		return "running"
	case ExecutionSuccess:
		return "success"
	case ExecutionFailure:
		return "failure"
	default:
		return "unknown"
	}
}

func (s ExecutionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ProcessorExecution records one processor run within a deployment.
type ProcessorExecution struct {
	Processor     string          `json:"processor" yaml:"processor"`
	Start         time.Time       `json:"start" yaml:"start"`
	End           time.Time       `json:"end" yaml:"end"`
	Status        ExecutionStatus `json:"status" yaml:"status"`
	StatusDetails string          `json:"statusDetails,omitempty" yaml:"statusDetails,omitempty"`
}

func newExecution(processor string) *ProcessorExecution {
	return &ProcessorExecution{
		Processor: processor,
		Start:     time.Now(),
		Status:    ExecutionRunning,
	}
}


// Duration reports how long the processor ran. Zero while still running.
func (e *ProcessorExecution) Duration() time.Duration {
	if e.End.IsZero() {
		return 0
	}
	return e.End.Sub(e.Start)
}

// Deployment is one run of the pipeline for a target. Processors read and
// update it; access is guarded so a watcher may read it concurrently.
type Deployment struct {
	mu sync.RWMutex

	Target     string                `json:"target" yaml:"target"`
	Status     DeploymentStatus      `json:"status" yaml:"status"`
	Start      time.Time             `json:"start" yaml:"start"`
	End        time.Time             `json:"end,omitempty" yaml:"end,omitempty"`
	ChangeSet  *repository.ChangeSet `json:"changeSet,omitempty" yaml:"changeSet,omitempty"`
	Executions []*ProcessorExecution `json:"executions" yaml:"executions"`
}

// NewDeployment starts a running deployment for target.
func NewDeployment(target string) *Deployment {
	return &Deployment{
		Target: target,
		Status: DeploymentRunning,
		Start:  time.Now(),
	}
}

func (d *Deployment) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Status == DeploymentRunning
}

func (d *Deployment) CurrentStatus() DeploymentStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Status
}

// CurrentChangeSet returns the change set produced so far, nil if none.
func (d *Deployment) CurrentChangeSet() *repository.ChangeSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ChangeSet
}

func (d *Deployment) setChangeSet(cs *repository.ChangeSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ChangeSet = cs
}

func (d *Deployment) addExecution(e *ProcessorExecution) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Executions = append(d.Executions, e)
}

// finishExecution records the outcome of e, an execution of d.
func (d *Deployment) finishExecution(e *ProcessorExecution, status ExecutionStatus, details string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e.End = time.Now()
	e.Status = status
	e.StatusDetails = details
}

// CurrentExecutions returns copies of the executions recorded so far.
func (d *Deployment) CurrentExecutions() []ProcessorExecution {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ProcessorExecution, len(d.Executions))
	for i, e := range d.Executions {
		out[i] = *e
	}
	return out
}

// Elapsed reports how long the deployment ran. Zero while still running.
func (d *Deployment) Elapsed() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.End.IsZero() {
		return 0
	}
	return d.End.Sub(d.Start)
}

// end moves a running deployment to its final status. Ending twice keeps
// the first status.
func (d *Deployment) end(status DeploymentStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Status != DeploymentRunning {
		return
	}
	d.Status = status
	d.End = time.Now()
}
