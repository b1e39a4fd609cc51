package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// OpenUsageSession inserts a new open session for a device.
func (s *Store) OpenUsageSession(sess *model.UsageSession) error {
	_, err := s.db.Exec(`INSERT INTO usage_sessions
		(id, vlan_id, mac, ip, hostname, app_category, seconds_used, started_at_ms, ended_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		sess.ID, sess.VlanID, sess.MAC, sess.IP, sess.Hostname,
		nullableStr(sess.AppCategory), sess.SecondsUsed, ms(sess.StartedAt))
	if err != nil {
		return transientf("opening usage session", err)
	}
	return nil
}

// OpenSessionFor returns the open session for a device, or nil.
func (s *Store) OpenSessionFor(mac string) (*model.UsageSession, error) {
	row := s.db.QueryRow(`SELECT id, vlan_id, mac, ip, hostname, app_category,
		seconds_used, started_at_ms, ended_at_ms
		FROM usage_sessions WHERE mac = ? AND ended_at_ms IS NULL`, mac)
	sess, err := scanUsageSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transientf("reading open session", err)
	}
	return sess, nil
}

// AddSessionSeconds accumulates active seconds onto an open session.
func (s *Store) AddSessionSeconds(id string, seconds int64) error {
	res, err := s.db.Exec(`UPDATE usage_sessions SET seconds_used = seconds_used + ?
		WHERE id = ? AND ended_at_ms IS NULL`, seconds, id)
	if err != nil {
		return transientf("accumulating session seconds", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.Invariantf("session_closed", "usage session %s is not open", id)
	}
	return nil
}

// SetSessionCategory assigns the application category.
func (s *Store) SetSessionCategory(id, category string) error {
	_, err := s.db.Exec(`UPDATE usage_sessions SET app_category = ? WHERE id = ?`, category, id)
	if err != nil {
		return transientf("setting session category", err)
	}
	return nil
}

// CloseUsageSession stamps ended_at on an open session. Closing an
// already-closed session is an invariant violation.
func (s *Store) CloseUsageSession(id string, endedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE usage_sessions SET ended_at_ms = ?
		WHERE id = ? AND ended_at_ms IS NULL`, ms(endedAt), id)
	if err != nil {
		return transientf("closing usage session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.Invariantf("session_closed", "usage session %s is not open", id)
	}
	return nil
}

// SessionHistory returns sessions for a device, newest first.
func (s *Store) SessionHistory(mac string, limit int) ([]*model.UsageSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, vlan_id, mac, ip, hostname, app_category,
		seconds_used, started_at_ms, ended_at_ms
		FROM usage_sessions WHERE mac = ?
		ORDER BY started_at_ms DESC LIMIT ?`, mac, limit)
	if err != nil {
		return nil, transientf("reading session history", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// OpenSessions returns every open session.
func (s *Store) OpenSessions() ([]*model.UsageSession, error) {
	rows, err := s.db.Query(`SELECT id, vlan_id, mac, ip, hostname, app_category,
		seconds_used, started_at_ms, ended_at_ms
		FROM usage_sessions WHERE ended_at_ms IS NULL ORDER BY started_at_ms`)
	if err != nil {
		return nil, transientf("reading open sessions", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// --- classification rules ---

// AppPatterns returns classification patterns in ascending id order;
// evaluation order is significant (first match wins).
func (s *Store) AppPatterns() ([]*model.AppPattern, error) {
	rows, err := s.db.Query(`SELECT id, pattern, category FROM app_patterns ORDER BY id`)
	if err != nil {
		return nil, transientf("reading app patterns", err)
	}
	defer rows.Close()

	var pats []*model.AppPattern
	for rows.Next() {
		var p model.AppPattern
		if err := rows.Scan(&p.ID, &p.Pattern, &p.Category); err != nil {
			return nil, transientf("scanning app pattern", err)
		}
		pats = append(pats, &p)
	}
	return pats, rows.Err()
}

// AddAppPattern appends a classification pattern.
func (s *Store) AddAppPattern(pattern, category string) error {
	_, err := s.db.Exec(`INSERT INTO app_patterns (pattern, category) VALUES (?, ?)`, pattern, category)
	if err != nil {
		return transientf("adding app pattern", err)
	}
	return nil
}

// DnsWhitelist returns the whitelist patterns in id order.
func (s *Store) DnsWhitelist() ([]*model.DnsWhitelistEntry, error) {
	rows, err := s.db.Query(`SELECT id, pattern FROM dns_whitelist ORDER BY id`)
	if err != nil {
		return nil, transientf("reading dns whitelist", err)
	}
	defer rows.Close()

	var entries []*model.DnsWhitelistEntry
	for rows.Next() {
		var e model.DnsWhitelistEntry
		if err := rows.Scan(&e.ID, &e.Pattern); err != nil {
			return nil, transientf("scanning whitelist entry", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// AddDnsWhitelist appends a whitelist pattern.
func (s *Store) AddDnsWhitelist(pattern string) error {
	_, err := s.db.Exec(`INSERT INTO dns_whitelist (pattern) VALUES (?)`, pattern)
	if err != nil {
		return transientf("adding whitelist entry", err)
	}
	return nil
}

// --- VLAN thresholds ---

// VlanThreshold returns the threshold row for a VLAN, or nil.
func (s *Store) VlanThreshold(vlanID int) (*model.VlanThreshold, error) {
	row := s.db.QueryRow(`SELECT vlan_id, threshold_kbps, time_window_secs, session_limit_secs
		FROM vlan_thresholds WHERE vlan_id = ?`, vlanID)
	var t model.VlanThreshold
	err := row.Scan(&t.VlanID, &t.ThresholdKbps, &t.TimeWindowSecs, &t.SessionLimitSecs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transientf("reading vlan threshold", err)
	}
	return &t, nil
}

// VlanThresholds returns all threshold rows ordered by VLAN id.
func (s *Store) VlanThresholds() ([]*model.VlanThreshold, error) {
	rows, err := s.db.Query(`SELECT vlan_id, threshold_kbps, time_window_secs, session_limit_secs
		FROM vlan_thresholds ORDER BY vlan_id`)
	if err != nil {
		return nil, transientf("reading vlan thresholds", err)
	}
	defer rows.Close()

	var out []*model.VlanThreshold
	for rows.Next() {
		var t model.VlanThreshold
		if err := rows.Scan(&t.VlanID, &t.ThresholdKbps, &t.TimeWindowSecs, &t.SessionLimitSecs); err != nil {
			return nil, transientf("scanning vlan threshold", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// PutVlanThreshold validates and upserts a threshold, writing the
// before/after audit row required for threshold changes.
func (s *Store) PutVlanThreshold(t *model.VlanThreshold, actor string, now time.Time) error {
	if err := t.Validate(); err != nil {
		return err
	}
	before, err := s.VlanThreshold(t.VlanID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO vlan_thresholds
		(vlan_id, threshold_kbps, time_window_secs, session_limit_secs)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(vlan_id) DO UPDATE SET
		 threshold_kbps=excluded.threshold_kbps,
		 time_window_secs=excluded.time_window_secs,
		 session_limit_secs=excluded.session_limit_secs`,
		t.VlanID, t.ThresholdKbps, t.TimeWindowSecs, t.SessionLimitSecs)
	if err != nil {
		return transientf("writing vlan threshold", err)
	}

	beforeJSON, _ := json.Marshal(before)
	afterJSON, _ := json.Marshal(t)
	_, err = s.db.Exec(`INSERT INTO vlan_thresholds_audit
		(vlan_id, actor, before_json, after_json, at_ms) VALUES (?, ?, ?, ?, ?)`,
		t.VlanID, actor, string(beforeJSON), string(afterJSON), ms(now))
	if err != nil {
		return transientf("auditing vlan threshold change", err)
	}
	return nil
}

func collectSessions(rows *sql.Rows) ([]*model.UsageSession, error) {
	var sessions []*model.UsageSession
	for rows.Next() {
		sess, err := scanUsageSession(rows)
		if err != nil {
			return nil, transientf("scanning usage session", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanUsageSession(r rowScanner) (*model.UsageSession, error) {
	var (
		sess     model.UsageSession
		category sql.NullString
		started  sql.NullInt64
		ended    sql.NullInt64
	)
	err := r.Scan(&sess.ID, &sess.VlanID, &sess.MAC, &sess.IP, &sess.Hostname,
		&category, &sess.SecondsUsed, &started, &ended)
	if err != nil {
		return nil, err
	}
	sess.AppCategory = category.String
	if started.Valid {
		sess.StartedAt = fromMS(started.Int64)
	}
	sess.EndedAt = fromMSPtr(ended)
	return &sess, nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
