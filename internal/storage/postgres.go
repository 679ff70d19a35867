package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/presence/internal/config"
)

// PostgresStore is the system of record for identities and attendance events.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type PurgeResult struct {
	Events     int64 `json:"events"`
	Identities int64 `json:"identities"`
}

// Purge deletes every attendance event and, if includeIdentities is set,
// every identity too.
func (s *PostgresStore) Purge(ctx context.Context, includeIdentities bool) (PurgeResult, error) {
	var res PurgeResult
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `DELETE FROM attendance_events`)
	if err != nil {
		return res, fmt.Errorf("purge events: %w", err)
	}
	res.Events = tag.RowsAffected()

	if includeIdentities {
		tag, err = tx.Exec(ctx, `DELETE FROM identities`)
		if err != nil {
			return res, fmt.Errorf("purge identities: %w", err)
		}
		res.Identities = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit purge: %w", err)
	}
	return res, nil
}
