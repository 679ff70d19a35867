package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/presence/internal/models"
)

const identityColumns = `id, name, embedding, created_at, updated_at`

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	var (
		ident models.Identity
		vec   pgvector.Vector
	)
	if err := row.Scan(&ident.ID, &ident.Name, &vec, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
		return nil, err
	}
	ident.Embedding = vec.Slice()
	return &ident, nil
}

func (s *PostgresStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var idents []models.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		idents = append(idents, *ident)
	}
	return idents, rows.Err()
}

// GetIdentity returns nil, nil when the identity does not exist.
func (s *PostgresStore) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	ident, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return ident, nil
}

// UpsertIdentity inserts ident, or replaces name and embedding when ident.ID
// is already taken. A zero ID is assigned by the database.
func (s *PostgresStore) UpsertIdentity(ctx context.Context, ident *models.Identity) error {
	vec := pgvector.NewVector(ident.Embedding)

	if ident.ID == 0 {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO identities (name, embedding) VALUES ($1, $2)
			 RETURNING id, created_at, updated_at`,
			ident.Name, vec,
		).Scan(&ident.ID, &ident.CreatedAt, &ident.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert identity: %w", err)
		}
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert identity: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx,
		`INSERT INTO identities (id, name, embedding) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		   SET name = EXCLUDED.name, embedding = EXCLUDED.embedding, updated_at = NOW()
		 RETURNING created_at, updated_at`,
		ident.ID, ident.Name, vec,
	).Scan(&ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert identity %d: %w", ident.ID, err)
	}

	// keep generated ids ahead of explicitly chosen ones
	_, err = tx.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('identities', 'id'),
		               GREATEST((SELECT MAX(id) FROM identities), 1))`)
	if err != nil {
		return fmt.Errorf("advance identity sequence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert identity: %w", err)
	}
	return nil
}
