package store

import (
	"database/sql"
	"errors"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// Auth sessions are keyed by a SHA-256 fingerprint of the bearer token,
// never the token itself, so a copy of the database does not leak live
// credentials.

// InsertAuthSession persists a freshly issued session under its token
// fingerprint.
func (s *Store) InsertAuthSession(tokenHash string, sess *model.AuthSession) error {
	_, err := s.db.Exec(`INSERT INTO auth_sessions
		(token_hash, user_id, issued_at_ms, expires_at_ms, refresh_until_ms, revoked)
		VALUES (?, ?, ?, ?, ?, 0)`,
		tokenHash, sess.UserID, ms(sess.IssuedAt), ms(sess.ExpiresAt), ms(sess.RefreshAllowedUntil))
	if err != nil {
		return transientf("inserting auth session", err)
	}
	return nil
}

// GetAuthSession looks up a session by token fingerprint.
func (s *Store) GetAuthSession(tokenHash string) (*model.AuthSession, error) {
	row := s.db.QueryRow(`SELECT user_id, issued_at_ms, expires_at_ms, refresh_until_ms, revoked
		FROM auth_sessions WHERE token_hash = ?`, tokenHash)
	var (
		sess                    model.AuthSession
		issued, expires, refres int64
		revoked                 int
	)
	err := row.Scan(&sess.UserID, &issued, &expires, &refres, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("unknown_token", "unknown session token")
	}
	if err != nil {
		return nil, transientf("reading auth session", err)
	}
	sess.IssuedAt = fromMS(issued)
	sess.ExpiresAt = fromMS(expires)
	sess.RefreshAllowedUntil = fromMS(refres)
	sess.Revoked = revoked != 0
	return &sess, nil
}

// RevokeAuthSession marks a session revoked. The conditional update
// makes refresh rotation single-use: only one caller can revoke a live
// session, so only one rotation wins.
func (s *Store) RevokeAuthSession(tokenHash string) (bool, error) {
	res, err := s.db.Exec(`UPDATE auth_sessions SET revoked = 1
		WHERE token_hash = ? AND revoked = 0`, tokenHash)
	if err != nil {
		return false, transientf("revoking auth session", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RevokeUserSessions revokes every live session of a user (disable,
// password change). Returns the number revoked.
func (s *Store) RevokeUserSessions(userID int64) (int, error) {
	res, err := s.db.Exec(`UPDATE auth_sessions SET revoked = 1
		WHERE user_id = ? AND revoked = 0`, userID)
	if err != nil {
		return 0, transientf("revoking user sessions", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListAuthSessions returns a user's live (unrevoked, unexpired)
// sessions, newest first. Token fingerprints are not returned.
func (s *Store) ListAuthSessions(userID int64, nowMS int64) ([]*model.AuthSession, error) {
	rows, err := s.db.Query(`SELECT user_id, issued_at_ms, expires_at_ms, refresh_until_ms
		FROM auth_sessions WHERE user_id = ? AND revoked = 0 AND expires_at_ms >= ?
		ORDER BY issued_at_ms DESC`, userID, nowMS)
	if err != nil {
		return nil, transientf("listing auth sessions", err)
	}
	defer rows.Close()

	var sessions []*model.AuthSession
	for rows.Next() {
		var (
			sess                    model.AuthSession
			issued, expires, refres int64
		)
		if err := rows.Scan(&sess.UserID, &issued, &expires, &refres); err != nil {
			return nil, transientf("scanning auth session", err)
		}
		sess.IssuedAt = fromMS(issued)
		sess.ExpiresAt = fromMS(expires)
		sess.RefreshAllowedUntil = fromMS(refres)
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// PruneAuthSessions deletes sessions that expired before the cutoff.
func (s *Store) PruneAuthSessions(beforeMS int64) (int, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at_ms < ?`, beforeMS)
	if err != nil {
		return 0, transientf("pruning auth sessions", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
