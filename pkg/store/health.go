package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// PutProbe inserts or replaces a health probe configuration.
func (s *Store) PutProbe(p *model.HealthProbe) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO health_probes
		(id, kind, target, interval_s, failure_threshold, recovery_action)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 kind=excluded.kind, target=excluded.target, interval_s=excluded.interval_s,
		 failure_threshold=excluded.failure_threshold, recovery_action=excluded.recovery_action`,
		p.ID, string(p.Kind), p.Target, p.IntervalS, p.FailureThreshold,
		nullableStr(p.RecoveryAction))
	if err != nil {
		return transientf("writing probe", err)
	}
	return nil
}

// GetProbe returns one probe configuration.
func (s *Store) GetProbe(id string) (*model.HealthProbe, error) {
	row := s.db.QueryRow(`SELECT id, kind, target, interval_s, failure_threshold, recovery_action
		FROM health_probes WHERE id = ?`, id)
	p, err := scanProbe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("unknown_probe", "no such probe %q", id)
	}
	if err != nil {
		return nil, transientf("reading probe", err)
	}
	return p, nil
}

// ListProbes returns all probe configurations ordered by id.
func (s *Store) ListProbes() ([]*model.HealthProbe, error) {
	rows, err := s.db.Query(`SELECT id, kind, target, interval_s, failure_threshold, recovery_action
		FROM health_probes ORDER BY id`)
	if err != nil {
		return nil, transientf("listing probes", err)
	}
	defer rows.Close()

	var probes []*model.HealthProbe
	for rows.Next() {
		p, err := scanProbe(rows)
		if err != nil {
			return nil, transientf("scanning probe", err)
		}
		probes = append(probes, p)
	}
	return probes, rows.Err()
}

// DeleteProbe removes a probe configuration.
func (s *Store) DeleteProbe(id string) error {
	res, err := s.db.Exec(`DELETE FROM health_probes WHERE id = ?`, id)
	if err != nil {
		return transientf("deleting probe", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NotFoundf("unknown_probe", "no such probe %q", id)
	}
	return nil
}

// InsertHealthSample records one probe result.
func (s *Store) InsertHealthSample(sample *model.HealthSample) error {
	_, err := s.db.Exec(`INSERT INTO health_samples (probe_id, at_ms, status, detail)
		VALUES (?, ?, ?, ?)`,
		sample.ProbeID, ms(sample.At), string(sample.Status), sample.Detail)
	if err != nil {
		return transientf("recording health sample", err)
	}
	return nil
}

// RecentHealthSamples returns the latest samples for a probe, newest
// first.
func (s *Store) RecentHealthSamples(probeID string, limit int) ([]*model.HealthSample, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT probe_id, at_ms, status, detail FROM health_samples
		WHERE probe_id = ? ORDER BY at_ms DESC LIMIT ?`, probeID, limit)
	if err != nil {
		return nil, transientf("reading health samples", err)
	}
	defer rows.Close()

	var samples []*model.HealthSample
	for rows.Next() {
		var (
			sm     model.HealthSample
			at     int64
			status string
		)
		if err := rows.Scan(&sm.ProbeID, &at, &status, &sm.Detail); err != nil {
			return nil, transientf("scanning health sample", err)
		}
		sm.At = fromMS(at)
		sm.Status = model.HealthStatus(status)
		samples = append(samples, &sm)
	}
	return samples, rows.Err()
}

// InsertSelfHeal records one recovery attempt.
func (s *Store) InsertSelfHeal(e *model.SelfHealEntry) error {
	_, err := s.db.Exec(`INSERT INTO self_heal_log
		(at_ms, module, action, status, attempts, error, notified)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ms(e.At), e.Module, e.Action, e.Status, e.Attempts, e.Error, boolInt(e.Notified))
	if err != nil {
		return transientf("recording self-heal attempt", err)
	}
	return nil
}

// SelfHealLog returns recent recovery attempts, newest first.
func (s *Store) SelfHealLog(limit int) ([]*model.SelfHealEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT at_ms, module, action, status, attempts, error, notified
		FROM self_heal_log ORDER BY at_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, transientf("reading self-heal log", err)
	}
	defer rows.Close()

	var entries []*model.SelfHealEntry
	for rows.Next() {
		var (
			e        model.SelfHealEntry
			at       int64
			notified int
		)
		if err := rows.Scan(&at, &e.Module, &e.Action, &e.Status, &e.Attempts, &e.Error, &notified); err != nil {
			return nil, transientf("scanning self-heal entry", err)
		}
		e.At = fromMS(at)
		e.Notified = notified != 0
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// SelfHealAttemptsSince counts recovery attempts for a module since the
// cutoff. Escalation rows are not attempts and do not count toward the
// attempts-per-hour cap.
func (s *Store) SelfHealAttemptsSince(module string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM self_heal_log
		WHERE module = ? AND at_ms >= ? AND status IN ('DISPATCHED', 'FAILED')`,
		module, ms(since)).Scan(&n)
	if err != nil {
		return 0, transientf("counting self-heal attempts", err)
	}
	return n, nil
}

func scanProbe(r rowScanner) (*model.HealthProbe, error) {
	var (
		p        model.HealthProbe
		kind     string
		recovery sql.NullString
	)
	err := r.Scan(&p.ID, &kind, &p.Target, &p.IntervalS, &p.FailureThreshold, &recovery)
	if err != nil {
		return nil, err
	}
	p.Kind = model.ProbeKind(kind)
	p.RecoveryAction = recovery.String
	return &p, nil
}
