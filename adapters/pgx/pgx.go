// Package pgx stores kasal's accounts, sessions and documents in PostgreSQL.
package pgx

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/internal/notify"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

const listenBackoff = time.Second

// Adapter implements core.AuthStorage. Session deletes made by any process
// reach OnSessionsRevoked listeners once Listen runs.
type Adapter struct {
	pool    *pgxpool.Pool
	revoked notify.Set[[]string]
	logger  *zap.Logger
}

var (
	_ core.AuthStorage        = (*Adapter)(nil)
	_ core.SessionRevocations = (*Adapter)(nil)
)

func New(pool *pgxpool.Pool, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		pool:   pool,
		logger: logger,
	}
}

// Migrate creates the tables, indexes and change trigger kasal needs.
// It is safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// listen hands every payload sent on channel to handle until ctx is done,
// reconnecting after connection loss.
func listen(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, channel string, handle func(payload string)) error {
	for {
		err := listenOnce(ctx, pool, logger, channel, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("listener disconnected", zap.String("channel", channel), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(listenBackoff):
		}
	}
}

func listenOnce(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, channel string, handle func(payload string)) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		// a cancelled wait closes the connection; otherwise hand it back clean
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logger.Debug("listening for changes", zap.String("channel", channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		handle(n.Payload)
	}
}
