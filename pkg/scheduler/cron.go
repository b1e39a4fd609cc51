// Package scheduler implements the cron-driven, dependency-aware job
// runner: registration with DAG validation, minute-boundary dispatch
// through a bounded worker pool, retry with exponential backoff, and
// durable run history.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lnmt-project/lnmt/pkg/util"
)

// cronSpec wraps a parsed five-field cron expression with minute-level
// match semantics. Evaluation happens in a single configured location;
// a local minute doubled by a DST rollback fires once because each
// wall-clock tick is evaluated exactly once.
type cronSpec struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// parseCron parses a standard five-field expression
// (minute hour day month weekday; weekday 0-6 = Sunday-Saturday).
func parseCron(expr string, loc *time.Location) (*cronSpec, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, util.InvalidInputf("invalid_schedule", "invalid cron expression %q: %v", expr, err)
	}
	return &cronSpec{expr: expr, sched: sched, loc: loc}, nil
}

// Matches reports whether the expression fires at the minute containing t.
func (c *cronSpec) Matches(t time.Time) bool {
	minute := t.In(c.loc).Truncate(time.Minute)
	next := c.sched.Next(minute.Add(-time.Second))
	return next.Equal(minute)
}

// Next returns the first firing minute strictly after t.
func (c *cronSpec) Next(t time.Time) time.Time {
	return c.sched.Next(t.In(c.loc))
}

// Prev returns the most recent firing minute strictly before t, or the
// zero time when none exists within the lookback horizon.
func (c *cronSpec) Prev(t time.Time) time.Time {
	const lookbackMinutes = 8 * 24 * 60 // covers weekly schedules with slack
	minute := t.In(c.loc).Truncate(time.Minute)
	for i := 1; i <= lookbackMinutes; i++ {
		candidate := minute.Add(-time.Duration(i) * time.Minute)
		if c.Matches(candidate) {
			return candidate
		}
	}
	return time.Time{}
}
