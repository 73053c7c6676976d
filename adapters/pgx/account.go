package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lborres/kasal/core"
)

const accountColumns = `id, user_id, provider_id, account_id, password, access_token, refresh_token, expires_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*core.Account, error) {
	acc := &core.Account{}
	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.ProviderID, &acc.AccountID, &acc.Password, &acc.AccessToken, &acc.RefreshToken, &acc.ExpiresAt, &acc.CreatedAt, &acc.UpdatedAt,
	)
	return acc, err
}

func (a *Adapter) CreateAccount(ctx context.Context, acc *core.Account) error {
	query := `INSERT INTO accounts (id, user_id, provider_id, account_id, password, access_token, refresh_token, expires_at)
	          VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6, $7, $8)
	          RETURNING id, created_at, updated_at`

	err := a.pool.QueryRow(ctx, query,
		acc.ID, acc.UserID, acc.ProviderID, acc.AccountID, acc.Password, acc.AccessToken, acc.RefreshToken, acc.ExpiresAt,
	).Scan(&acc.ID, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrUserExists
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (a *Adapter) GetAccountByProvider(ctx context.Context, providerID, accountID string) (*core.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE provider_id = $1 AND account_id = $2`

	acc, err := scanAccount(a.pool.QueryRow(ctx, query, providerID, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return acc, nil
}

func (a *Adapter) GetAccountByUserAndProvider(ctx context.Context, userID, providerID string) ([]*core.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND provider_id = $2 ORDER BY created_at`

	rows, err := a.pool.Query(ctx, query, userID, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*core.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

func (a *Adapter) UpdateAccount(ctx context.Context, acc *core.Account) error {
	query := `UPDATE accounts SET account_id = $1, password = $2, access_token = $3, refresh_token = $4, expires_at = $5, updated_at = now()
	          WHERE id = $6 RETURNING updated_at`

	err := a.pool.QueryRow(ctx, query,
		acc.AccountID, acc.Password, acc.AccessToken, acc.RefreshToken, acc.ExpiresAt, acc.ID,
	).Scan(&acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrUserNotFound
		}
		return err
	}
	return nil
}
