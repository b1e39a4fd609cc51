package store

import "time"

// Retention cleanup for the append-heavy operational tables. Each
// returns the number of rows removed.

// PruneSessions deletes closed usage sessions that ended before the
// cutoff. Open sessions are never touched.
func (s *Store) PruneSessions(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM usage_sessions
		WHERE ended_at_ms IS NOT NULL AND ended_at_ms < ?`, ms(olderThan))
	if err != nil {
		return 0, transientf("pruning usage sessions", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneSamples deletes presence samples observed before the cutoff.
func (s *Store) PruneSamples(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM presence_samples WHERE observed_at_ms < ?`, ms(olderThan))
	if err != nil {
		return 0, transientf("pruning presence samples", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneLeases deletes lease observations recorded before the cutoff.
func (s *Store) PruneLeases(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM lease_observations WHERE observed_at_ms < ?`, ms(olderThan))
	if err != nil {
		return 0, transientf("pruning lease observations", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneDNSQueries deletes DNS log rows recorded before the cutoff.
func (s *Store) PruneDNSQueries(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM dns_queries WHERE at_ms < ?`, ms(olderThan))
	if err != nil {
		return 0, transientf("pruning dns queries", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneAudit deletes audit rows recorded before the cutoff.
func (s *Store) PruneAudit(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM audit_events WHERE at_ms < ?`, ms(olderThan))
	if err != nil {
		return 0, transientf("pruning audit events", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
