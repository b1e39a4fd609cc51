// Package model defines the persistent entities shared by the LNMT
// subsystems. The store owns every row; subsystems exchange these values
// by read-back, never by shared mutable pointers.
package model

import (
	"time"

	"github.com/lnmt-project/lnmt/pkg/util"
)

// Priority orders job dispatch within a scheduler tick.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "LOW",
	PriorityNormal:   "NORMAL",
	PriorityHigh:     "HIGH",
	PriorityCritical: "CRITICAL",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return "NORMAL"
}

// ParsePriority converts a priority name to its value. Unknown names
// default to NORMAL.
func ParsePriority(s string) Priority {
	for p, name := range priorityNames {
		if name == s {
			return p
		}
	}
	return PriorityNormal
}

// Job is a named, scheduled unit of work.
type Job struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Target       string            `json:"target" yaml:"target"`
	Schedule     string            `json:"schedule" yaml:"schedule"`
	Priority     Priority          `json:"-" yaml:"-"`
	PriorityName string            `json:"priority" yaml:"priority"`
	MaxRetries   int               `json:"max_retries" yaml:"max_retries"`
	RetryDelayS  int               `json:"retry_delay_s" yaml:"retry_delay_s"`
	TimeoutS     int               `json:"timeout_s" yaml:"timeout_s"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	Args         []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Kwargs       map[string]string `json:"kwargs,omitempty" yaml:"kwargs,omitempty"`
	CreatedAt    time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time         `json:"updated_at" yaml:"-"`
}

// Validate checks field-level job invariants. Schedule syntax, target
// resolution and dependency shape are the scheduler's concern.
func (j *Job) Validate() error {
	var v util.ValidationBuilder
	v.Add(j.ID != "", "job id is required")
	v.Add(j.Target != "", "invocation target is required")
	v.Add(j.Schedule != "", "cron schedule is required")
	v.Add(j.TimeoutS > 0, "timeout_s must be > 0")
	v.Add(j.MaxRetries >= 0, "max_retries must be >= 0")
	v.Add(j.RetryDelayS >= 0, "retry_delay_s must be >= 0")
	for _, dep := range j.Dependencies {
		if dep == j.ID {
			v.AddErrorf("job %q cannot depend on itself", j.ID)
		}
	}
	return v.Build()
}

// RunStatus is the durable state of one execution attempt.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
	RunRetrying  RunStatus = "RETRYING"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// legal JobRun transitions; anything else is a bug.
var runTransitions = map[RunStatus][]RunStatus{
	RunPending:  {RunRunning, RunCancelled},
	RunRunning:  {RunCompleted, RunFailed, RunRetrying, RunCancelled},
	RunRetrying: {RunPending, RunFailed, RunCancelled},
}

// CanTransition reports whether from → to is a legal run transition.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RunTrigger records why a run was started.
type RunTrigger string

const (
	TriggerSchedule   RunTrigger = "schedule"
	TriggerManual     RunTrigger = "manual"
	TriggerDependency RunTrigger = "dependency"
)

// JobRun is one execution attempt of a Job.
type JobRun struct {
	RunID      string     `json:"run_id"`
	JobID      string     `json:"job_id"`
	Status     RunStatus  `json:"status"`
	Trigger    RunTrigger `json:"trigger"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	RetryCount int        `json:"retry_count"`
	Error      string     `json:"error,omitempty"`
	Output     string     `json:"output,omitempty"`
}

// MaxRunOutput bounds the persisted output of a single run.
const MaxRunOutput = 16 * 1024

// Duration returns the run's wall time, or 0 while still running.
func (r *JobRun) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
