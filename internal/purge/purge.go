// Package purge wipes attendance history, and optionally the roster, across
// Postgres, MinIO and the report cache.
package purge

import (
	"context"
	"log/slog"
	"time"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/queue"
	"github.com/your-org/presence/internal/storage"
)

type Records interface {
	Purge(ctx context.Context, includeIdentities bool) (storage.PurgeResult, error)
}

type Objects interface {
	PurgePrefix(ctx context.Context, prefix string) (int, error)
}

type Cache interface {
	InvalidateAll(ctx context.Context) error
}

type Reloader interface {
	Reload(ctx context.Context) error
}

type Notifier interface {
	NotifyRosterChanged(change queue.RosterChange) error
}

type Result struct {
	Events     int64          `json:"events"`
	Identities int64          `json:"identities"`
	Objects    map[string]int `json:"objects"`
}

// Service runs purges. Only Records is required.
type Service struct {
	Records  Records
	Objects  Objects
	Cache    Cache
	Roster   Reloader
	Notifier Notifier
}

// Run deletes every attendance event with its snapshots and buffered frames.
// includeIdentities also removes the roster and enrollment images. Only the
// database step is fatal; the rest is logged and skipped on failure.
func (s *Service) Run(ctx context.Context, includeIdentities bool) (Result, error) {
	res, err := s.Records.Purge(ctx, includeIdentities)
	if err != nil {
		return Result{}, apperror.Persistence(err, "purge records")
	}
	out := Result{Events: res.Events, Identities: res.Identities, Objects: map[string]int{}}

	if s.Objects != nil {
		prefixes := []string{storage.SnapshotsPrefix, storage.FramesPrefix}
		if includeIdentities {
			prefixes = append(prefixes, storage.EnrollmentPrefix)
		}
		for _, p := range prefixes {
			n, err := s.Objects.PurgePrefix(ctx, p)
			if err != nil {
				slog.Warn("purge objects", "prefix", p, "error", err)
				continue
			}
			out.Objects[p] = n
		}
	}

	if s.Cache != nil {
		if err := s.Cache.InvalidateAll(ctx); err != nil {
			slog.Warn("invalidate report cache", "error", err)
		}
	}
	if includeIdentities && s.Roster != nil {
		if err := s.Roster.Reload(ctx); err != nil {
			slog.Error("reload roster after purge", "error", err)
		}
	}
	// Workers cache the last event per identity; they must forget it.
	if s.Notifier != nil {
		change := queue.RosterChange{Reason: "purged", At: time.Now().UTC()}
		if err := s.Notifier.NotifyRosterChanged(change); err != nil {
			slog.Warn("notify roster change", "error", err)
		}
	}

	slog.Info("purge complete", "events", out.Events, "identities", out.Identities, "objects", out.Objects)
	return out, nil
}
