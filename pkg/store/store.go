// Package store is the single persistence layer for LNMT. The
// configuration tier lives in SQLite; the append-heavy operational tier
// may additionally be mirrored into Redis (see optier.go) and falls back
// to SQLite when Redis is unavailable.
//
// All cross-subsystem invariants that involve concurrent writers (one
// RUNNING run per job, session token rotation) are enforced here with
// conditional updates, not by caller-side locking.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lnmt-project/lnmt/pkg/util"
)

// Store wraps the SQLite database plus the optional operational tier.
type Store struct {
	db *sql.DB
	op *OpTier
}

// Open opens (creating if necessary) the database at path and applies
// pending migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	// SQLite allows a single writer; serializing through one connection
	// avoids SQLITE_BUSY under concurrent subsystem writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// AttachOpTier enables the Redis-backed operational tier.
func (s *Store) AttachOpTier(op *OpTier) {
	s.op = op
}

// Close closes the database and the operational tier if attached.
func (s *Store) Close() error {
	if s.op != nil {
		_ = s.op.Close()
	}
	return s.db.Close()
}

// ms converts a time to the unix-millisecond representation used in
// every timestamp column.
func ms(t time.Time) int64 {
	return t.UnixMilli()
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

func fromMS(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func fromMSPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

// transientf wraps a database error into the transient taxonomy class.
func transientf(op string, err error) error {
	return util.Transientf("store_unavailable", "%s: %v", op, err)
}
