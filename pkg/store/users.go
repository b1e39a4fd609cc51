package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// CreateUser inserts a new user. Username uniqueness is
// case-insensitive; the canonical lowercase form is stored.
func (s *Store) CreateUser(u *model.User) error {
	u.Username = model.CanonicalUsername(u.Username)
	if u.Username == "" {
		return util.InvalidInputf("bad_username", "username is required")
	}
	if !u.Role.Valid() {
		return util.InvalidInputf("bad_role", "unknown role %q", u.Role)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`INSERT INTO users
		(username, password_verifier, email, role, enabled, failed_attempts, created_at_ms)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		u.Username, u.PasswordVerifier, u.Email, string(u.Role), boolInt(u.Enabled), ms(u.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return util.Conflictf("user_exists", "user %q already exists", u.Username)
		}
		return transientf("creating user", err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

// GetUser returns a user by username (case-insensitive).
func (s *Store) GetUser(username string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT id, username, password_verifier, email, role, enabled,
		failed_attempts, lockout_until_ms, last_login_ms, created_at_ms
		FROM users WHERE username = ?`, model.CanonicalUsername(username))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("unknown_user", "no such user %q", username)
	}
	if err != nil {
		return nil, transientf("reading user", err)
	}
	return u, nil
}

// GetUserByID returns a user by numeric id.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT id, username, password_verifier, email, role, enabled,
		failed_attempts, lockout_until_ms, last_login_ms, created_at_ms
		FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("unknown_user", "no such user id %d", id)
	}
	if err != nil {
		return nil, transientf("reading user", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers() ([]*model.User, error) {
	rows, err := s.db.Query(`SELECT id, username, password_verifier, email, role, enabled,
		failed_attempts, lockout_until_ms, last_login_ms, created_at_ms
		FROM users ORDER BY username`)
	if err != nil {
		return nil, transientf("listing users", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, transientf("scanning user", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserPassword replaces the password verifier.
func (s *Store) SetUserPassword(username, verifier string) error {
	res, err := s.db.Exec(`UPDATE users SET password_verifier = ? WHERE username = ?`,
		verifier, model.CanonicalUsername(username))
	if err != nil {
		return transientf("updating password", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NotFoundf("unknown_user", "no such user %q", username)
	}
	return nil
}

// SetUserEnabled flips an account's enabled flag.
func (s *Store) SetUserEnabled(username string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE users SET enabled = ? WHERE username = ?`,
		boolInt(enabled), model.CanonicalUsername(username))
	if err != nil {
		return transientf("updating user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NotFoundf("unknown_user", "no such user %q", username)
	}
	return nil
}

// RecordLoginFailure increments failed_attempts and, when lockUntil is
// non-nil, starts a lockout.
func (s *Store) RecordLoginFailure(username string, lockUntil *time.Time) error {
	var lockMS any
	if lockUntil != nil {
		lockMS = ms(*lockUntil)
	}
	_, err := s.db.Exec(`UPDATE users
		SET failed_attempts = failed_attempts + 1,
		    lockout_until_ms = COALESCE(?, lockout_until_ms)
		WHERE username = ?`, lockMS, model.CanonicalUsername(username))
	if err != nil {
		return transientf("recording login failure", err)
	}
	return nil
}

// RecordLoginSuccess clears the failure counter and lockout and stamps
// last_login.
func (s *Store) RecordLoginSuccess(username string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE users
		SET failed_attempts = 0, lockout_until_ms = NULL, last_login_ms = ?
		WHERE username = ?`, ms(at), model.CanonicalUsername(username))
	if err != nil {
		return transientf("recording login success", err)
	}
	return nil
}

// ClearLockout resets the failure counter without touching last_login.
func (s *Store) ClearLockout(username string) error {
	_, err := s.db.Exec(`UPDATE users SET failed_attempts = 0, lockout_until_ms = NULL
		WHERE username = ?`, model.CanonicalUsername(username))
	if err != nil {
		return transientf("clearing lockout", err)
	}
	return nil
}

func scanUser(r rowScanner) (*model.User, error) {
	var (
		u                 model.User
		role              string
		enabled           int
		lockout, lastSeen sql.NullInt64
		created           int64
	)
	err := r.Scan(&u.ID, &u.Username, &u.PasswordVerifier, &u.Email, &role, &enabled,
		&u.FailedAttempts, &lockout, &lastSeen, &created)
	if err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.Enabled = enabled != 0
	u.LockoutUntil = fromMSPtr(lockout)
	u.LastLogin = fromMSPtr(lastSeen)
	u.CreatedAt = fromMS(created)
	return &u, nil
}
