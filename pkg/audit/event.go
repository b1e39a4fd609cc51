// Package audit provides audit logging for authentication and
// policy-affecting actions. Events land in the store's audit table and,
// when configured, in a JSON-lines security log file.
package audit

import (
	"fmt"
	"time"
)

// Event is an auditable action. Details must already be sanitized:
// never a password, never a raw token.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Details   string    `json:"details,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
}

// Well-known audit actions.
const (
	ActionLogin         = "auth.login"
	ActionLogout        = "auth.logout"
	ActionRefresh       = "auth.refresh"
	ActionLockout       = "auth.lockout"
	ActionUserChange    = "auth.user_change"
	ActionJobChange     = "scheduler.job_change"
	ActionJobRun        = "scheduler.run"
	ActionLeaseSkipped  = "tracker.lease_skipped"
	ActionThresholdEdit = "tracker.threshold_change"
	ActionSelfHeal      = "health.self_heal"
)

// NewEvent creates an audit event stamped now.
func NewEvent(actor, action, target string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Target:    target,
	}
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDetails attaches sanitized free-form detail
func (e *Event) WithDetails(format string, args ...interface{}) *Event {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// WithClientIP records the caller address
func (e *Event) WithClientIP(ip string) *Event {
	e.ClientIP = ip
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
