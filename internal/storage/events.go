package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/presence"
)

const eventColumns = `id, identity_id, ts, kind, camera_id, snapshot_key, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.AttendanceEvent, error) {
	var (
		ev   models.AttendanceEvent
		kind string
	)
	if err := row.Scan(&ev.ID, &ev.IdentityID, &ev.Timestamp, &kind, &ev.CameraID, &ev.SnapshotKey, &ev.CreatedAt); err != nil {
		return nil, err
	}
	k, err := models.ParseEventKind(kind)
	if err != nil {
		return nil, err
	}
	ev.Kind = k
	ev.Timestamp = ev.Timestamp.UTC()
	return &ev, nil
}

// queryOne runs a single-row event query, mapping no rows to nil.
func queryOne(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, what, sql string, args ...any) (*models.AttendanceEvent, error) {
	ev, err := scanEvent(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return ev, nil
}

func (s *PostgresStore) LastEvent(ctx context.Context, identityID int64) (*models.AttendanceEvent, error) {
	return queryOne(ctx, s.pool, "last event",
		`SELECT `+eventColumns+` FROM attendance_events
		 WHERE identity_id = $1 ORDER BY ts DESC, id DESC LIMIT 1`, identityID)
}

// EventBefore returns the latest event strictly before t.
func (s *PostgresStore) EventBefore(ctx context.Context, identityID int64, t time.Time) (*models.AttendanceEvent, error) {
	return queryOne(ctx, s.pool, "event before",
		`SELECT `+eventColumns+` FROM attendance_events
		 WHERE identity_id = $1 AND ts < $2 ORDER BY ts DESC, id DESC LIMIT 1`, identityID, t)
}

// EventAtOrAfter returns the earliest event at or after t.
func (s *PostgresStore) EventAtOrAfter(ctx context.Context, identityID int64, t time.Time) (*models.AttendanceEvent, error) {
	return queryOne(ctx, s.pool, "event after",
		`SELECT `+eventColumns+` FROM attendance_events
		 WHERE identity_id = $1 AND ts >= $2 ORDER BY ts, id LIMIT 1`, identityID, t)
}

// EventsBetween returns events with from <= ts < to, oldest first.
func (s *PostgresStore) EventsBetween(ctx context.Context, identityID int64, from, to time.Time) ([]models.AttendanceEvent, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM attendance_events
		 WHERE identity_id = $1 AND ts >= $2 AND ts < $3 ORDER BY ts, id`, identityID, from, to)
}

// ListEvents returns the newest events of an identity within [from, to), newest first.
func (s *PostgresStore) ListEvents(ctx context.Context, identityID int64, from, to time.Time, limit int) ([]models.AttendanceEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM attendance_events
		 WHERE identity_id = $1 AND ts >= $2 AND ts < $3 ORDER BY ts DESC, id DESC LIMIT $4`,
		identityID, from, to, limit)
}

func (s *PostgresStore) queryEvents(ctx context.Context, sql string, args ...any) ([]models.AttendanceEvent, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []models.AttendanceEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// CommitEvent holds a transaction-scoped advisory lock on the identity while
// it reads the last event, asks decide what to insert and inserts it. Two
// processes observing the same identity therefore never decide on the same
// last event.
func (s *PostgresStore) CommitEvent(ctx context.Context, identityID int64, decide presence.DecideFunc) (*models.AttendanceEvent, *models.AttendanceEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin commit event: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, identityID); err != nil {
		return nil, nil, fmt.Errorf("lock identity %d: %w", identityID, err)
	}

	last, err := queryOne(ctx, tx, "last event",
		`SELECT `+eventColumns+` FROM attendance_events
		 WHERE identity_id = $1 ORDER BY ts DESC, id DESC LIMIT 1`, identityID)
	if err != nil {
		return nil, nil, err
	}

	ev := decide(last)
	if ev == nil {
		return nil, last, nil
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO attendance_events (identity_id, ts, kind, camera_id, snapshot_key)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		ev.IdentityID, ev.Timestamp, string(ev.Kind), ev.CameraID, ev.SnapshotKey,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit event: %w", err)
	}
	return ev, last, nil
}

// SetSnapshotKey attaches a stored face crop to an already committed event.
func (s *PostgresStore) SetSnapshotKey(ctx context.Context, eventID int64, key string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attendance_events SET snapshot_key = $1 WHERE id = $2`, key, eventID)
	if err != nil {
		return fmt.Errorf("set snapshot key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %d not found", eventID)
	}
	return nil
}
