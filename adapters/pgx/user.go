package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lborres/kasal/core"
)

const userColumns = `id, email, email_verified, name, image, disabled, created_at, updated_at`

func scanUser(row pgx.Row) (*core.User, error) {
	user := &core.User{}
	err := row.Scan(&user.ID, &user.Email, &user.EmailVerified, &user.Name, &user.Image, &user.Disabled, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (a *Adapter) CreateUser(ctx context.Context, user *core.User) error {
	query := `INSERT INTO users (id, email, email_verified, name, image, disabled)
	          VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6)
	          RETURNING id, created_at, updated_at`

	err := a.pool.QueryRow(ctx, query, user.ID, user.Email, user.EmailVerified, user.Name, user.Image, user.Disabled).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrUserExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (a *Adapter) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(a.pool.QueryRow(ctx, q, id))
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUser(a.pool.QueryRow(ctx, q, email))
}

func (a *Adapter) UpdateUser(ctx context.Context, user *core.User) error {
	q := `UPDATE users SET email = $1, email_verified = $2, name = $3, image = $4, disabled = $5, updated_at = now()
	      WHERE id = $6 RETURNING created_at, updated_at`
	err := a.pool.QueryRow(ctx, q, user.Email, user.EmailVerified, user.Name, user.Image, user.Disabled, user.ID).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return core.ErrUserExists
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}
