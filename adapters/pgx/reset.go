package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lborres/kasal/core"
)

func (a *Adapter) CreatePasswordReset(ctx context.Context, r *core.PasswordReset) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO password_resets (token_hash, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		r.TokenHash, r.UserID, r.ExpiresAt, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert password reset: %w", err)
	}
	return nil
}

// ConsumePasswordReset deletes the reset and returns it in one statement.
func (a *Adapter) ConsumePasswordReset(ctx context.Context, tokenHash string) (*core.PasswordReset, error) {
	r := &core.PasswordReset{}
	err := a.pool.QueryRow(ctx,
		`DELETE FROM password_resets WHERE token_hash = $1 RETURNING token_hash, user_id, expires_at, created_at`,
		tokenHash).Scan(&r.TokenHash, &r.UserID, &r.ExpiresAt, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrResetTokenInvalid
		}
		return nil, err
	}
	return r, nil
}
