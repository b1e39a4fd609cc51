package model

import (
	"strings"
	"time"
)

// Role is the coarse permission level of an operator account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

var roleRank = map[Role]int{RoleViewer: 0, RoleOperator: 1, RoleAdmin: 2}

// Covers reports whether r grants at least the required role.
func (r Role) Covers(required Role) bool {
	return roleRank[r] >= roleRank[required]
}

// Valid reports whether r names a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// User is an operator account. PasswordVerifier is an opaque encoded
// hash; bare passwords are never stored.
type User struct {
	ID               int64      `json:"id"`
	Username         string     `json:"username"`
	PasswordVerifier string     `json:"-"`
	Email            string     `json:"email,omitempty"`
	Role             Role       `json:"role"`
	Enabled          bool       `json:"enabled"`
	FailedAttempts   int        `json:"failed_attempts"`
	LockoutUntil     *time.Time `json:"lockout_until,omitempty"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// CanonicalUsername lowercases a username; usernames are unique
// case-insensitively.
func CanonicalUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AuthSession is an issued bearer session.
type AuthSession struct {
	Token               string    `json:"-"`
	UserID              int64     `json:"user_id"`
	IssuedAt            time.Time `json:"issued_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	RefreshAllowedUntil time.Time `json:"refresh_allowed_until"`
	Revoked             bool      `json:"revoked"`
}

// AuditEvent is an immutable record of an auth, config, or
// policy-affecting action.
type AuditEvent struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"at"`
	Actor   string    `json:"actor"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	Success bool      `json:"success"`
	Details string    `json:"details,omitempty"`
}
