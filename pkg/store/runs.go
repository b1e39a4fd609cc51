package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// ClaimRun atomically inserts a RUNNING run for run.JobID. The guard
// enforces the single-RUNNING invariant at the store, so concurrent
// dispatchers cannot double-claim a job. Returns AlreadyRunning
// (conflict class) when another RUNNING run exists.
func (s *Store) ClaimRun(run *model.JobRun) error {
	run.Status = model.RunRunning
	res, err := s.db.Exec(`INSERT INTO job_runs
		(run_id, job_id, status, trigger, started_at_ms, retry_count, error, output)
		SELECT ?, ?, ?, ?, ?, ?, '', ''
		WHERE NOT EXISTS (SELECT 1 FROM job_runs WHERE job_id = ? AND status = 'RUNNING')`,
		run.RunID, run.JobID, string(run.Status), string(run.Trigger),
		ms(run.StartedAt), run.RetryCount, run.JobID)
	if err != nil {
		return transientf("claiming run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.Conflictf("already_running", "job %q already has a running run", run.JobID)
	}
	return nil
}

// TransitionRun compare-and-swaps a run's status. A CAS miss against the
// expected status is an invariant violation: the caller observed a state
// the store no longer holds.
func (s *Store) TransitionRun(runID string, from, to model.RunStatus, endedAt *time.Time, runErr, output string) error {
	if !model.CanTransition(from, to) {
		return util.Invariantf("illegal_transition", "job run %s: illegal transition %s -> %s", runID, from, to)
	}
	if len(output) > model.MaxRunOutput {
		output = output[:model.MaxRunOutput]
	}

	var endedMS any
	if endedAt != nil {
		endedMS = ms(*endedAt)
	}
	res, err := s.db.Exec(`UPDATE job_runs
		SET status = ?, ended_at_ms = COALESCE(?, ended_at_ms), error = ?, output = ?
		WHERE run_id = ? AND status = ?`,
		string(to), endedMS, runErr, output, runID, string(from))
	if err != nil {
		return transientf("transitioning run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.Invariantf("illegal_transition", "job run %s: expected status %s for transition to %s", runID, from, to)
	}
	if s.op != nil && to.Terminal() {
		if run, err := s.GetRun(runID); err == nil {
			s.op.MirrorRun(run)
		}
	}
	return nil
}

// GetRun returns a single run by id.
func (s *Store) GetRun(runID string) (*model.JobRun, error) {
	row := s.db.QueryRow(`SELECT run_id, job_id, status, trigger, started_at_ms,
		ended_at_ms, retry_count, error, output FROM job_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("unknown_run", "no such run %q", runID)
	}
	if err != nil {
		return nil, transientf("reading run", err)
	}
	return run, nil
}

// RunHistory returns the most recent runs, newest first, optionally
// restricted to one job. Ordering is by started_at with run_id breaking
// ties. Reads prefer the operational tier when it can serve the query.
func (s *Store) RunHistory(jobID string, limit int) ([]*model.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if s.op != nil && jobID != "" {
		if runs, ok := s.op.RecentRuns(jobID, limit); ok {
			// Only terminal runs are mirrored; an in-flight run is still
			// part of "most recent" and comes from SQLite.
			if live, err := s.RunningRun(jobID); err == nil && live != nil {
				runs = append([]*model.JobRun{live}, runs...)
				if len(runs) > limit {
					runs = runs[:limit]
				}
			}
			return runs, nil
		}
	}

	q := `SELECT run_id, job_id, status, trigger, started_at_ms, ended_at_ms,
		retry_count, error, output FROM job_runs `
	var (
		rows *sql.Rows
		err  error
	)
	if jobID != "" {
		rows, err = s.db.Query(q+`WHERE job_id = ? ORDER BY started_at_ms DESC, run_id DESC LIMIT ?`, jobID, limit)
	} else {
		rows, err = s.db.Query(q+`ORDER BY started_at_ms DESC, run_id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, transientf("reading run history", err)
	}
	defer rows.Close()

	var runs []*model.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, transientf("scanning run", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunningRun returns the RUNNING run for a job, or nil.
func (s *Store) RunningRun(jobID string) (*model.JobRun, error) {
	row := s.db.QueryRow(`SELECT run_id, job_id, status, trigger, started_at_ms,
		ended_at_ms, retry_count, error, output
		FROM job_runs WHERE job_id = ? AND status = 'RUNNING'`, jobID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transientf("reading running run", err)
	}
	return run, nil
}

// RunningCount returns the number of RUNNING runs across all jobs.
func (s *Store) RunningCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM job_runs WHERE status = 'RUNNING'`).Scan(&n); err != nil {
		return 0, transientf("counting running runs", err)
	}
	return n, nil
}

// LatestCompleted returns the most recent COMPLETED run for a job, or
// nil when the job has never completed.
func (s *Store) LatestCompleted(jobID string) (*model.JobRun, error) {
	row := s.db.QueryRow(`SELECT run_id, job_id, status, trigger, started_at_ms,
		ended_at_ms, retry_count, error, output
		FROM job_runs WHERE job_id = ? AND status = 'COMPLETED'
		ORDER BY started_at_ms DESC, run_id DESC LIMIT 1`, jobID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transientf("reading latest completed run", err)
	}
	return run, nil
}

// CancelRunning force-cancels every RUNNING run. Used on graceful-drain
// timeout; survivors are marked CANCELLED per the shutdown contract.
func (s *Store) CancelRunning(endedAt time.Time) (int, error) {
	res, err := s.db.Exec(`UPDATE job_runs SET status = 'CANCELLED', ended_at_ms = ?
		WHERE status = 'RUNNING'`, ms(endedAt))
	if err != nil {
		return 0, transientf("cancelling running runs", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneRuns deletes terminal runs older than the cutoff and returns the
// number removed.
func (s *Store) PruneRuns(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM job_runs
		WHERE started_at_ms < ? AND status IN ('COMPLETED', 'FAILED', 'CANCELLED')`,
		ms(olderThan))
	if err != nil {
		return 0, transientf("pruning runs", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanRun(r rowScanner) (*model.JobRun, error) {
	var (
		run             model.JobRun
		status, trigger string
		started         int64
		ended           sql.NullInt64
	)
	err := r.Scan(&run.RunID, &run.JobID, &status, &trigger, &started, &ended,
		&run.RetryCount, &run.Error, &run.Output)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	run.Trigger = model.RunTrigger(trigger)
	run.StartedAt = fromMS(started)
	run.EndedAt = fromMSPtr(ended)
	return &run, nil
}
