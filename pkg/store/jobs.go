package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// PutJob inserts or replaces a job definition.
func (s *Store) PutJob(j *model.Job) error {
	deps, _ := json.Marshal(j.Dependencies)
	args, _ := json.Marshal(j.Args)
	kwargs, _ := json.Marshal(j.Kwargs)
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	j.UpdatedAt = time.Now().UTC()

	_, err := s.db.Exec(`INSERT INTO jobs
		(id, name, target, schedule, priority, max_retries, retry_delay_s, timeout_s,
		 dependencies, enabled, args, kwargs, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 name=excluded.name, target=excluded.target, schedule=excluded.schedule,
		 priority=excluded.priority, max_retries=excluded.max_retries,
		 retry_delay_s=excluded.retry_delay_s, timeout_s=excluded.timeout_s,
		 dependencies=excluded.dependencies, enabled=excluded.enabled,
		 args=excluded.args, kwargs=excluded.kwargs, updated_at_ms=excluded.updated_at_ms`,
		j.ID, j.Name, j.Target, j.Schedule, int(j.Priority), j.MaxRetries, j.RetryDelayS,
		j.TimeoutS, string(deps), boolInt(j.Enabled), string(args), string(kwargs),
		ms(j.CreatedAt), ms(j.UpdatedAt))
	if err != nil {
		return transientf("writing job", err)
	}
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(id string) (*model.Job, error) {
	row := s.db.QueryRow(`SELECT id, name, target, schedule, priority, max_retries,
		retry_delay_s, timeout_s, dependencies, enabled, args, kwargs,
		created_at_ms, updated_at_ms FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("unknown_job", "no such job %q", id)
	}
	if err != nil {
		return nil, transientf("reading job", err)
	}
	return j, nil
}

// ListJobs returns all job definitions ordered by id.
func (s *Store) ListJobs() ([]*model.Job, error) {
	rows, err := s.db.Query(`SELECT id, name, target, schedule, priority, max_retries,
		retry_delay_s, timeout_s, dependencies, enabled, args, kwargs,
		created_at_ms, updated_at_ms FROM jobs ORDER BY id`)
	if err != nil {
		return nil, transientf("listing jobs", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, transientf("scanning job", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job definition. Run history is retained.
func (s *Store) DeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return transientf("deleting job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NotFoundf("unknown_job", "no such job %q", id)
	}
	return nil
}

// SetJobEnabled flips the enabled flag.
func (s *Store) SetJobEnabled(id string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE jobs SET enabled = ?, updated_at_ms = ? WHERE id = ?`,
		boolInt(enabled), nowMS(), id)
	if err != nil {
		return transientf("updating job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NotFoundf("unknown_job", "no such job %q", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*model.Job, error) {
	var (
		j                  model.Job
		prio               int
		deps, args, kwargs string
		enabled            int
		created, updated   int64
	)
	err := r.Scan(&j.ID, &j.Name, &j.Target, &j.Schedule, &prio, &j.MaxRetries,
		&j.RetryDelayS, &j.TimeoutS, &deps, &enabled, &args, &kwargs, &created, &updated)
	if err != nil {
		return nil, err
	}
	j.Priority = model.Priority(prio)
	j.PriorityName = j.Priority.String()
	j.Enabled = enabled != 0
	j.CreatedAt = fromMS(created)
	j.UpdatedAt = fromMS(updated)
	_ = json.Unmarshal([]byte(deps), &j.Dependencies)
	_ = json.Unmarshal([]byte(args), &j.Args)
	_ = json.Unmarshal([]byte(kwargs), &j.Kwargs)
	return &j, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
