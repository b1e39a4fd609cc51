package model

import (
	"time"

	"github.com/lnmt-project/lnmt/pkg/util"
)

// ProbeKind selects the health check mechanism.
type ProbeKind string

const (
	ProbeProcess ProbeKind = "process"
	ProbePort    ProbeKind = "port"
	ProbeHTTP    ProbeKind = "http"
	ProbeDisk    ProbeKind = "disk"
	ProbeCustom  ProbeKind = "custom"
)

// HealthProbe is the configuration for one periodic check.
type HealthProbe struct {
	ID               string    `json:"id" yaml:"id"`
	Kind             ProbeKind `json:"kind" yaml:"kind"`
	Target           string    `json:"target" yaml:"target"`
	IntervalS        int       `json:"interval_s" yaml:"interval_s"`
	FailureThreshold int       `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryAction   string    `json:"recovery_action,omitempty" yaml:"recovery_action,omitempty"`
}

// Validate checks probe configuration invariants.
func (p *HealthProbe) Validate() error {
	var v util.ValidationBuilder
	v.Add(p.ID != "", "probe id is required")
	v.Add(p.Target != "", "probe target is required")
	v.Add(p.IntervalS > 0, "interval_s must be > 0")
	v.Add(p.FailureThreshold > 0, "failure_threshold must be > 0")
	switch p.Kind {
	case ProbeProcess, ProbePort, ProbeHTTP, ProbeDisk, ProbeCustom:
	default:
		v.AddErrorf("unknown probe kind %q", p.Kind)
	}
	return v.Build()
}

// HealthStatus is the outcome of one probe execution.
type HealthStatus string

const (
	HealthOK   HealthStatus = "ok"
	HealthWarn HealthStatus = "warn"
	HealthFail HealthStatus = "fail"
)

// HealthSample is one recorded probe result.
type HealthSample struct {
	ProbeID string       `json:"probe_id"`
	At      time.Time    `json:"at"`
	Status  HealthStatus `json:"status"`
	Detail  string       `json:"detail,omitempty"`
}

// SelfHealEntry records one recovery attempt, successful or not.
type SelfHealEntry struct {
	At       time.Time `json:"at"`
	Module   string    `json:"module"`
	Action   string    `json:"action"`
	Status   string    `json:"status"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	Notified bool      `json:"notified"`
}
