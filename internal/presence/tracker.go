// Package presence turns sightings of an identity into an alternating,
// debounced stream of entry and exit events.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/observability"
)

// DecideFunc receives the identity's latest committed event (nil if none) and
// returns the event to insert, or nil to insert nothing.
type DecideFunc func(last *models.AttendanceEvent) *models.AttendanceEvent

// Store is the event log. CommitEvent must run decide and the insert
// atomically with respect to other commits for the same identity, across
// processes. It returns the inserted event (with ID set) or nil, plus the
// last event decide was shown.
type Store interface {
	LastEvent(ctx context.Context, identityID int64) (*models.AttendanceEvent, error)
	CommitEvent(ctx context.Context, identityID int64, decide DecideFunc) (inserted, last *models.AttendanceEvent, err error)
}

// Meta carries optional attributes stamped on an emitted event.
type Meta struct {
	CameraID string
}

type Outcome struct {
	// Event is set when a new event was committed.
	Event      *models.AttendanceEvent
	Suppressed bool
	// State is the identity's presence state after this observation.
	State models.PresenceState
}

func (o Outcome) Emitted() bool { return o.Event != nil }

type Tracker struct {
	store   Store
	window  time.Duration
	timeout time.Duration
	locks   *keyedMutex

	mu   sync.RWMutex
	last map[int64]*models.AttendanceEvent
}

func NewTracker(store Store, window, timeout time.Duration) *Tracker {
	return &Tracker{
		store:   store,
		window:  window,
		timeout: timeout,
		locks:   newKeyedMutex(),
		last:    make(map[int64]*models.AttendanceEvent),
	}
}

// Observe records that identityID was seen at now. A sighting less than the
// debounce window after the last event (or before it) is suppressed.
// Otherwise an entry or exit is committed, whichever keeps the log
// alternating.
func (t *Tracker) Observe(ctx context.Context, identityID int64, now time.Time, meta Meta) (Outcome, error) {
	if identityID <= 0 {
		return Outcome{}, apperror.Validation("identity id must be positive")
	}
	now = now.UTC()

	unlock := t.locks.Lock(identityID)
	defer unlock()

	// A cached event can only be older than the real last one, so
	// suppressing on it never suppresses wrongly.
	if cached := t.cached(identityID); cached != nil && t.withinWindow(cached, now) {
		observability.DebounceSuppressed.Inc()
		return Outcome{Suppressed: true, State: models.StateAfter(cached)}, nil
	}

	opCtx, cancel := t.withTimeout(ctx)
	defer cancel()

	inserted, last, err := t.store.CommitEvent(opCtx, identityID, func(last *models.AttendanceEvent) *models.AttendanceEvent {
		if last != nil && t.withinWindow(last, now) {
			return nil
		}
		return &models.AttendanceEvent{
			IdentityID: identityID,
			Timestamp:  now,
			Kind:       models.NextKind(models.StateAfter(last)),
			CameraID:   meta.CameraID,
		}
	})
	if err != nil {
		observability.PersistenceFailures.WithLabelValues("commit_event").Inc()
		slog.Error("commit attendance event", "identity_id", identityID, "error", err)
		return Outcome{}, apperror.Persistence(err, "record attendance event")
	}

	if inserted == nil {
		t.remember(identityID, last)
		observability.DebounceSuppressed.Inc()
		return Outcome{Suppressed: true, State: models.StateAfter(last)}, nil
	}

	t.remember(identityID, inserted)
	observability.AttendanceEvents.WithLabelValues(string(inserted.Kind)).Inc()
	slog.Info("attendance event",
		"identity_id", identityID, "kind", inserted.Kind, "ts", inserted.Timestamp, "camera_id", meta.CameraID)
	return Outcome{Event: inserted, State: models.StateAfter(inserted)}, nil
}

// State reads the identity's current presence state from the store.
func (t *Tracker) State(ctx context.Context, identityID int64) (models.PresenceState, *models.AttendanceEvent, error) {
	opCtx, cancel := t.withTimeout(ctx)
	defer cancel()

	last, err := t.store.LastEvent(opCtx, identityID)
	if err != nil {
		observability.PersistenceFailures.WithLabelValues("last_event").Inc()
		return "", nil, apperror.Persistence(err, "read presence state")
	}
	return models.StateAfter(last), last, nil
}

// ResetCache forgets all cached last events. Called after the event log is
// purged.
func (t *Tracker) ResetCache() {
	t.mu.Lock()
	t.last = make(map[int64]*models.AttendanceEvent)
	t.mu.Unlock()
}

func (t *Tracker) withinWindow(last *models.AttendanceEvent, now time.Time) bool {
	return now.Sub(last.Timestamp) < t.window
}

func (t *Tracker) cached(identityID int64) *models.AttendanceEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last[identityID]
}

func (t *Tracker) remember(identityID int64, ev *models.AttendanceEvent) {
	if ev == nil {
		return
	}
	t.mu.Lock()
	t.last[identityID] = ev
	t.mu.Unlock()
}

func (t *Tracker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}
