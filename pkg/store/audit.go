package store

import (
	"strings"
	"time"

	"github.com/lnmt-project/lnmt/pkg/model"
)

// AppendAudit writes one immutable audit row.
func (s *Store) AppendAudit(e *model.AuditEvent) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	res, err := s.db.Exec(`INSERT INTO audit_events (at_ms, actor, action, target, success, details)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ms(e.At), e.Actor, e.Action, e.Target, boolInt(e.Success), e.Details)
	if err != nil {
		return transientf("appending audit event", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// AuditFilter restricts QueryAudit output. Zero value matches all.
type AuditFilter struct {
	Actor     string
	Action    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// QueryAudit returns audit rows matching the filter, newest first.
func (s *Store) QueryAudit(f AuditFilter) ([]*model.AuditEvent, error) {
	q := `SELECT id, at_ms, actor, action, target, success, details FROM audit_events`
	var (
		conds []string
		args  []any
	)
	if f.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if !f.StartTime.IsZero() {
		conds = append(conds, "at_ms >= ?")
		args = append(args, ms(f.StartTime))
	}
	if !f.EndTime.IsZero() {
		conds = append(conds, "at_ms <= ?")
		args = append(args, ms(f.EndTime))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY at_ms DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, transientf("querying audit events", err)
	}
	defer rows.Close()

	var events []*model.AuditEvent
	for rows.Next() {
		var (
			e       model.AuditEvent
			at      int64
			success int
		)
		if err := rows.Scan(&e.ID, &at, &e.Actor, &e.Action, &e.Target, &success, &e.Details); err != nil {
			return nil, transientf("scanning audit event", err)
		}
		e.At = fromMS(at)
		e.Success = success != 0
		events = append(events, &e)
	}
	return events, rows.Err()
}
