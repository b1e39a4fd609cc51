package auth

import (
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/lnmt-project/lnmt/pkg/audit"
	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// Policy holds the tunable auth parameters.
type Policy struct {
	SessionIdle      time.Duration // token lifetime, remember_me=false
	SessionRemember  time.Duration // token lifetime, remember_me=true
	LockoutThreshold int           // consecutive failures before lockout
	LockoutWindow    time.Duration // failures must fall within this window
	LockoutDuration  time.Duration
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		SessionIdle:      30 * time.Minute,
		SessionRemember:  24 * time.Hour,
		LockoutThreshold: 5,
		LockoutWindow:    15 * time.Minute,
		LockoutDuration:  15 * time.Minute,
	}
}

// Stable auth failure modes.
var (
	ErrBadCredentials = util.NewCodedError(util.ErrUnauthenticated, "bad_credentials", "invalid username or password")
	ErrLockedOut      = util.NewCodedError(util.ErrPolicyViolation, "locked_out", "account temporarily locked")
	ErrDisabled       = util.NewCodedError(util.ErrPolicyViolation, "account_disabled", "account disabled")
	ErrExpired        = util.NewCodedError(util.ErrUnauthenticated, "token_expired", "session expired")
	ErrRevoked        = util.NewCodedError(util.ErrUnauthenticated, "token_revoked", "session revoked")
	ErrUnknownToken   = util.NewCodedError(util.ErrUnauthenticated, "unknown_token", "unknown session token")
)

// Engine verifies credentials and manages sessions. Every decision,
// allow or deny, produces one audit row.
type Engine struct {
	store  *store.Store
	policy Policy
	clock  clock.PassiveClock

	// lastFailure tracks the start of the in-window failure streak per
	// user; the durable counter lives on the user row. Logins arrive
	// concurrently from the API, so the map is mutex-guarded.
	mu          sync.Mutex
	lastFailure map[string]time.Time
}

// NewEngine creates an auth engine over the store.
func NewEngine(st *store.Store, policy Policy, clk clock.PassiveClock) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		store:       st,
		policy:      policy,
		clock:       clk,
		lastFailure: make(map[string]time.Time),
	}
}

// LoginResult is returned to the transport layer on success.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Login verifies credentials and issues a session token.
func (e *Engine) Login(username, password string, rememberMe bool) (*LoginResult, error) {
	now := e.clock.Now().UTC()
	user, err := e.store.GetUser(username)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			// Burn a hash anyway so unknown and known usernames are
			// indistinguishable by timing.
			_ = VerifyPassword(password, mustDummyVerifier())
			e.auditLogin(username, ErrBadCredentials)
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	if user.LockoutUntil != nil && now.Before(*user.LockoutUntil) {
		// Attempts during lockout do not extend it and do not count.
		e.auditLogin(username, ErrLockedOut)
		return nil, ErrLockedOut
	}
	if !user.Enabled {
		e.auditLogin(username, ErrDisabled)
		return nil, ErrDisabled
	}

	if err := VerifyPassword(password, user.PasswordVerifier); err != nil {
		if lockErr := e.recordFailure(user, now); lockErr != nil {
			util.WithField("user", user.Username).Warnf("recording login failure: %v", lockErr)
		}
		e.auditLogin(username, ErrBadCredentials)
		return nil, ErrBadCredentials
	}

	token, err := NewToken()
	if err != nil {
		return nil, util.Transientf("token_generation", "generating session token: %v", err)
	}

	lifetime := e.policy.SessionIdle
	if rememberMe {
		lifetime = e.policy.SessionRemember
	}
	sess := &model.AuthSession{
		UserID:              user.ID,
		IssuedAt:            now,
		ExpiresAt:           now.Add(lifetime),
		RefreshAllowedUntil: now.Add(e.policy.SessionRemember),
	}
	if err := e.store.InsertAuthSession(TokenHash(token), sess); err != nil {
		return nil, err
	}
	if err := e.store.RecordLoginSuccess(user.Username, now); err != nil {
		return nil, err
	}
	e.mu.Lock()
	delete(e.lastFailure, user.Username)
	e.mu.Unlock()

	e.audit(audit.NewEvent(user.Username, audit.ActionLogin, "").
		WithSuccess().
		WithDetails("token=%s remember=%v", TokenFingerprint(token), rememberMe))

	user.FailedAttempts = 0
	user.LockoutUntil = nil
	user.LastLogin = &now
	return &LoginResult{Token: token, ExpiresAt: sess.ExpiresAt, User: user}, nil
}

// recordFailure bumps the durable counter and starts a lockout when the
// in-window streak reaches the threshold.
func (e *Engine) recordFailure(user *model.User, now time.Time) error {
	e.mu.Lock()
	streakStart, seen := e.lastFailure[user.Username]
	if !seen || now.Sub(streakStart) > e.policy.LockoutWindow {
		// Streak expired; this failure starts a new window.
		e.lastFailure[user.Username] = now
		e.mu.Unlock()
		if user.FailedAttempts > 0 {
			if err := e.store.ClearLockout(user.Username); err != nil {
				return err
			}
		}
		return e.store.RecordLoginFailure(user.Username, nil)
	}
	e.mu.Unlock()

	if user.FailedAttempts+1 >= e.policy.LockoutThreshold {
		until := now.Add(e.policy.LockoutDuration)
		if err := e.store.RecordLoginFailure(user.Username, &until); err != nil {
			return err
		}
		e.audit(audit.NewEvent(user.Username, audit.ActionLockout, "").
			WithSuccess().
			WithDetails("locked until %s after %d failures", until.Format(time.RFC3339), user.FailedAttempts+1))
		return nil
	}
	return e.store.RecordLoginFailure(user.Username, nil)
}

// Logout revokes the session for a token. Unknown tokens are reported
// but not treated as errors worth retrying.
func (e *Engine) Logout(token string) error {
	hash := TokenHash(token)
	sess, err := e.store.GetAuthSession(hash)
	if err != nil {
		return ErrUnknownToken
	}
	if _, err := e.store.RevokeAuthSession(hash); err != nil {
		return err
	}
	actor := e.usernameFor(sess.UserID)
	e.audit(audit.NewEvent(actor, audit.ActionLogout, "").
		WithSuccess().
		WithDetails("token=%s", TokenFingerprint(token)))
	return nil
}

// Refresh rotates a session token. The old token is revoked in the same
// operation; refresh is single-use, and only one concurrent caller can
// win the rotation.
func (e *Engine) Refresh(token string) (*LoginResult, error) {
	now := e.clock.Now().UTC()
	hash := TokenHash(token)
	sess, err := e.store.GetAuthSession(hash)
	if err != nil {
		return nil, ErrUnknownToken
	}
	if sess.Revoked {
		return nil, ErrRevoked
	}
	if now.After(sess.RefreshAllowedUntil) {
		return nil, ErrExpired
	}

	won, err := e.store.RevokeAuthSession(hash)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrRevoked
	}

	user, err := e.store.GetUserByID(sess.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Enabled {
		return nil, ErrDisabled
	}

	newToken, err := NewToken()
	if err != nil {
		return nil, util.Transientf("token_generation", "generating session token: %v", err)
	}
	next := &model.AuthSession{
		UserID:              user.ID,
		IssuedAt:            now,
		ExpiresAt:           now.Add(e.policy.SessionIdle),
		RefreshAllowedUntil: sess.RefreshAllowedUntil,
	}
	if err := e.store.InsertAuthSession(TokenHash(newToken), next); err != nil {
		return nil, err
	}

	e.audit(audit.NewEvent(user.Username, audit.ActionRefresh, "").
		WithSuccess().
		WithDetails("old=%s new=%s", TokenFingerprint(token), TokenFingerprint(newToken)))
	return &LoginResult{Token: newToken, ExpiresAt: next.ExpiresAt, User: user}, nil
}

// Validate resolves a token to its user. Expired, revoked, and unknown
// tokens are distinguished for the caller.
func (e *Engine) Validate(token string) (*model.User, error) {
	if token == "" {
		return nil, ErrUnknownToken
	}
	sess, err := e.store.GetAuthSession(TokenHash(token))
	if err != nil {
		return nil, ErrUnknownToken
	}
	if sess.Revoked {
		return nil, ErrRevoked
	}
	if e.clock.Now().UTC().After(sess.ExpiresAt) {
		return nil, ErrExpired
	}
	user, err := e.store.GetUserByID(sess.UserID)
	if err != nil {
		return nil, ErrUnknownToken
	}
	if !user.Enabled {
		return nil, ErrDisabled
	}
	return user, nil
}

// VerifyRole checks that the user's role covers the requirement.
func (e *Engine) VerifyRole(user *model.User, required model.Role) error {
	if user == nil || !user.Role.Covers(required) {
		return util.NewCodedError(util.ErrForbidden, "forbidden",
			"role %q does not grant %q access", roleOf(user), required)
	}
	return nil
}

// CreateUser hashes the password and stores a new account.
func (e *Engine) CreateUser(username, password, email string, role model.Role) (*model.User, error) {
	verifier, err := HashPassword(password)
	if err != nil {
		return nil, util.Transientf("hash_failure", "hashing password: %v", err)
	}
	user := &model.User{
		Username:         username,
		PasswordVerifier: verifier,
		Email:            email,
		Role:             role,
		Enabled:          true,
	}
	if err := e.store.CreateUser(user); err != nil {
		return nil, err
	}
	e.audit(audit.NewEvent(username, audit.ActionUserChange, username).
		WithSuccess().WithDetails("user created with role %s", role))
	return user, nil
}

// SetPassword replaces a user's verifier and revokes their live
// sessions.
func (e *Engine) SetPassword(username, password string) error {
	verifier, err := HashPassword(password)
	if err != nil {
		return util.Transientf("hash_failure", "hashing password: %v", err)
	}
	if err := e.store.SetUserPassword(username, verifier); err != nil {
		return err
	}
	if user, err := e.store.GetUser(username); err == nil {
		if n, err := e.store.RevokeUserSessions(user.ID); err == nil && n > 0 {
			util.WithField("user", username).Infof("revoked %d sessions after password change", n)
		}
	}
	e.audit(audit.NewEvent(username, audit.ActionUserChange, username).
		WithSuccess().WithDetails("password changed"))
	return nil
}

// SetEnabled enables or disables an account, revoking sessions on
// disable.
func (e *Engine) SetEnabled(username string, enabled bool) error {
	if err := e.store.SetUserEnabled(username, enabled); err != nil {
		return err
	}
	if !enabled {
		if user, err := e.store.GetUser(username); err == nil {
			_, _ = e.store.RevokeUserSessions(user.ID)
		}
	}
	e.audit(audit.NewEvent(username, audit.ActionUserChange, username).
		WithSuccess().WithDetails("enabled=%v", enabled))
	return nil
}

func (e *Engine) auditLogin(username string, cause error) {
	e.audit(audit.NewEvent(username, audit.ActionLogin, "").WithError(cause))
}

// audit writes to both the store table and the optional security log.
func (e *Engine) audit(ev *audit.Event) {
	row := &model.AuditEvent{
		At:      ev.Timestamp,
		Actor:   ev.Actor,
		Action:  ev.Action,
		Target:  ev.Target,
		Success: ev.Success,
		Details: ev.Details,
	}
	if !ev.Success && ev.Error != "" {
		row.Details = ev.Error
	}
	if err := e.store.AppendAudit(row); err != nil {
		util.Warnf("auth: audit write failed: %v", err)
	}
	_ = audit.Log(ev)
}

func (e *Engine) usernameFor(id int64) string {
	if u, err := e.store.GetUserByID(id); err == nil {
		return u.Username
	}
	return "unknown"
}

func roleOf(u *model.User) model.Role {
	if u == nil {
		return ""
	}
	return u.Role
}

var dummyVerifier string

// mustDummyVerifier lazily builds a verifier for timing-equalized
// rejections of unknown usernames.
func mustDummyVerifier() string {
	if dummyVerifier == "" {
		v, err := HashPassword("lnmt-dummy-password")
		if err != nil {
			return "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
		}
		dummyVerifier = v
	}
	return dummyVerifier
}
