package store

import (
	"fmt"

	"github.com/lnmt-project/lnmt/pkg/util"
)

// A migration is a numbered, idempotent schema step. Versions are
// monotonically increasing; each is applied at most once and recorded in
// schema_migrations.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "base schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				target TEXT NOT NULL,
				schedule TEXT NOT NULL,
				priority INTEGER NOT NULL DEFAULT 1,
				max_retries INTEGER NOT NULL DEFAULT 0,
				retry_delay_s INTEGER NOT NULL DEFAULT 0,
				timeout_s INTEGER NOT NULL,
				dependencies TEXT NOT NULL DEFAULT '[]',
				enabled INTEGER NOT NULL DEFAULT 1,
				args TEXT NOT NULL DEFAULT '[]',
				kwargs TEXT NOT NULL DEFAULT '{}',
				created_at_ms INTEGER NOT NULL,
				updated_at_ms INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS job_runs (
				run_id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL,
				status TEXT NOT NULL,
				trigger TEXT NOT NULL,
				started_at_ms INTEGER NOT NULL,
				ended_at_ms INTEGER,
				retry_count INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				output TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_job_started ON job_runs(job_id, started_at_ms DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_status ON job_runs(status)`,
			`CREATE TABLE IF NOT EXISTS devices (
				mac TEXT PRIMARY KEY,
				ip TEXT NOT NULL DEFAULT '',
				hostname TEXT NOT NULL DEFAULT '',
				vlan_id INTEGER,
				first_seen_ms INTEGER NOT NULL,
				last_seen_ms INTEGER NOT NULL,
				res_host_id TEXT,
				res_hostname TEXT,
				res_vlan_id INTEGER,
				online INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS lease_observations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				mac TEXT NOT NULL,
				ip TEXT NOT NULL,
				hostname TEXT NOT NULL,
				lease_expiry_ms INTEGER NOT NULL,
				source_file TEXT NOT NULL,
				observed_at_ms INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_lease_mac ON lease_observations(mac, observed_at_ms DESC)`,
			`CREATE TABLE IF NOT EXISTS presence_samples (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				mac TEXT NOT NULL,
				observed_at_ms INTEGER NOT NULL,
				bytes_in_delta INTEGER NOT NULL,
				bytes_out_delta INTEGER NOT NULL,
				ping_responded INTEGER NOT NULL,
				active INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_samples_mac ON presence_samples(mac, observed_at_ms DESC)`,
			`CREATE TABLE IF NOT EXISTS usage_sessions (
				id TEXT PRIMARY KEY,
				vlan_id INTEGER NOT NULL,
				mac TEXT NOT NULL,
				ip TEXT NOT NULL,
				hostname TEXT NOT NULL,
				app_category TEXT,
				seconds_used INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS app_patterns (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				pattern TEXT NOT NULL,
				category TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS dns_whitelist (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				pattern TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS vlan_thresholds (
				vlan_id INTEGER PRIMARY KEY,
				threshold_kbps INTEGER NOT NULL,
				time_window_secs INTEGER NOT NULL,
				session_limit_secs INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS vlan_thresholds_audit (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				vlan_id INTEGER NOT NULL,
				actor TEXT NOT NULL,
				before_json TEXT NOT NULL,
				after_json TEXT NOT NULL,
				at_ms INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS health_probes (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				target TEXT NOT NULL,
				interval_s INTEGER NOT NULL,
				failure_threshold INTEGER NOT NULL,
				recovery_action TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS health_samples (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				probe_id TEXT NOT NULL,
				at_ms INTEGER NOT NULL,
				status TEXT NOT NULL,
				detail TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_health_probe ON health_samples(probe_id, at_ms DESC)`,
			`CREATE TABLE IF NOT EXISTS self_heal_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				at_ms INTEGER NOT NULL,
				module TEXT NOT NULL,
				action TEXT NOT NULL,
				status TEXT NOT NULL,
				attempts INTEGER NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				notified INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE,
				password_verifier TEXT NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				failed_attempts INTEGER NOT NULL DEFAULT 0,
				lockout_until_ms INTEGER,
				last_login_ms INTEGER,
				created_at_ms INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS auth_sessions (
				token_hash TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL,
				issued_at_ms INTEGER NOT NULL,
				expires_at_ms INTEGER NOT NULL,
				refresh_until_ms INTEGER NOT NULL,
				revoked INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_auth_sessions_user ON auth_sessions(user_id)`,
			`CREATE TABLE IF NOT EXISTS audit_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				at_ms INTEGER NOT NULL,
				actor TEXT NOT NULL,
				action TEXT NOT NULL,
				target TEXT NOT NULL DEFAULT '',
				success INTEGER NOT NULL,
				details TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_events(at_ms DESC)`,
		},
	},
	{
		// The upstream usage_sessions table recorded only seconds_used.
		// Sessions are canonically bounded by started_at/ended_at; legacy
		// rows backfill to NULL.
		version: 2,
		name:    "usage session bounds",
		stmts: []string{
			`ALTER TABLE usage_sessions ADD COLUMN started_at_ms INTEGER`,
			`ALTER TABLE usage_sessions ADD COLUMN ended_at_ms INTEGER`,
			`CREATE INDEX IF NOT EXISTS idx_usage_mac ON usage_sessions(mac, started_at_ms DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_open ON usage_sessions(mac) WHERE ended_at_ms IS NULL`,
		},
	},
	{
		version: 3,
		name:    "device dns log source",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS dns_queries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				client_ip TEXT NOT NULL,
				qname TEXT NOT NULL,
				at_ms INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_dns_client ON dns_queries(client_ip, at_ms DESC)`,
		},
	},
}

// Migrate applies all pending migrations in version order. Applying the
// same chain to an already-migrated database is a no-op.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at_ms INTEGER NOT NULL
	)`); err != nil {
		return transientf("creating schema_migrations", err)
	}

	last := 0
	for _, m := range migrations {
		if m.version <= last {
			return util.Invariantf("bad_migration", "migration versions not increasing at %d (%s)", m.version, m.name)
		}
		last = m.version

		var applied int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&applied)
		if err != nil {
			return transientf("reading schema_migrations", err)
		}
		if applied > 0 {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return transientf("beginning migration tx", err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at_ms) VALUES (?, ?, ?)`,
			m.version, m.name, nowMS()); err != nil {
			_ = tx.Rollback()
			return transientf("recording migration", err)
		}
		if err := tx.Commit(); err != nil {
			return transientf("committing migration", err)
		}
		util.Infof("store: applied migration %d (%s)", m.version, m.name)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, transientf("reading schema version", err)
	}
	return v, nil
}
