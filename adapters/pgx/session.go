package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lborres/kasal/core"
)

const sessionColumns = `id, user_id, token_hash, ip_address, user_agent, expires_at, created_at, updated_at`

func scanSession(row pgx.Row) (*core.Session, error) {
	s := &core.Session{}
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.IPAddress, &s.UserAgent, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

func (a *Adapter) CreateSession(ctx context.Context, session *core.Session) error {
	query := `INSERT INTO sessions (id, user_id, token_hash, ip_address, user_agent, expires_at, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := a.pool.Exec(ctx, query,
		session.ID, session.UserID, session.TokenHash, session.IPAddress, session.UserAgent,
		session.ExpiresAt, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (a *Adapter) GetSessionByHash(ctx context.Context, tokenHash string) (*core.Session, error) {
	return scanSession(a.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash))
}

func (a *Adapter) GetSessionByID(ctx context.Context, id string) (*core.Session, error) {
	return scanSession(a.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

func (a *Adapter) GetUserSessions(ctx context.Context, userID string) ([]*core.Session, error) {
	rows, err := a.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionsChannel is the LISTEN channel the sessions trigger notifies on
// with the token hash of each deleted session.
const SessionsChannel = "kasal_sessions"

// OnSessionsRevoked reports sessions deleted through this adapter before
// the deleting call returns, and deletes by other processes while Listen
// runs.
func (a *Adapter) OnSessionsRevoked(fn func(tokenHashes []string)) func() {
	return a.revoked.Add(fn)
}

// Listen relays session deletes from every writer until ctx is done.
func (a *Adapter) Listen(ctx context.Context) error {
	return listen(ctx, a.pool, a.logger, SessionsChannel, func(tokenHash string) {
		a.revoked.Notify([]string{tokenHash})
	})
}

// deleteSessions runs a DELETE ... RETURNING token_hash and reports the
// removed hashes.
func (a *Adapter) deleteSessions(ctx context.Context, query string, args ...any) (int, error) {
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}
	if len(hashes) > 0 {
		a.revoked.Notify(hashes)
	}
	return len(hashes), nil
}

func (a *Adapter) deleteOne(ctx context.Context, query, arg string) error {
	n, err := a.deleteSessions(ctx, query, arg)
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (a *Adapter) DeleteSessionByID(ctx context.Context, id string) error {
	return a.deleteOne(ctx, `DELETE FROM sessions WHERE id = $1 RETURNING token_hash`, id)
}

func (a *Adapter) DeleteSessionByHash(ctx context.Context, tokenHash string) error {
	return a.deleteOne(ctx, `DELETE FROM sessions WHERE token_hash = $1 RETURNING token_hash`, tokenHash)
}

func (a *Adapter) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	return a.deleteSessions(ctx, `DELETE FROM sessions WHERE user_id = $1 RETURNING token_hash`, userID)
}

func (a *Adapter) DeleteExpiredSessions(ctx context.Context) (int, error) {
	return a.deleteSessions(ctx, `DELETE FROM sessions WHERE expires_at < now() RETURNING token_hash`)
}
