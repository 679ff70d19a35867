package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/models"
)

// memStore is an in-memory event log. commitErr, when set, fails the next commits.
type memStore struct {
	mu        sync.Mutex
	events    map[int64][]models.AttendanceEvent
	nextID    int64
	commits   atomic.Int32
	commitErr error
	block     bool
}

func newMemStore() *memStore {
	return &memStore{events: make(map[int64][]models.AttendanceEvent)}
}

func (s *memStore) LastEvent(ctx context.Context, id int64) (*models.AttendanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[id]
	if len(evs) == 0 {
		return nil, nil
	}
	ev := evs[len(evs)-1]
	return &ev, nil
}

func (s *memStore) CommitEvent(ctx context.Context, id int64, decide DecideFunc) (*models.AttendanceEvent, *models.AttendanceEvent, error) {
	s.commits.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return nil, nil, s.commitErr
	}
	var last *models.AttendanceEvent
	if evs := s.events[id]; len(evs) > 0 {
		ev := evs[len(evs)-1]
		last = &ev
	}
	ev := decide(last)
	if ev == nil {
		return nil, last, nil
	}
	s.nextID++
	ev.ID = s.nextID
	s.events[id] = append(s.events[id], *ev)
	return ev, last, nil
}

func (s *memStore) kinds(id int64) []models.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EventKind
	for _, ev := range s.events[id] {
		out = append(out, ev.Kind)
	}
	return out
}

var t0 = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func TestObserve_Alternates(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, 30*time.Second, time.Second)
	ctx := context.Background()

	want := []models.EventKind{models.KindEntry, models.KindExit, models.KindEntry, models.KindExit}
	for i := range want {
		out, err := tr.Observe(ctx, 7, t0.Add(time.Duration(i)*time.Minute), Meta{CameraID: "door"})
		require.NoError(t, err)
		require.True(t, out.Emitted())
		assert.Equal(t, want[i], out.Event.Kind)
		assert.Equal(t, "door", out.Event.CameraID)
	}
	assert.Equal(t, want, store.kinds(7))

	state, last, err := tr.State(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StateOutside, state)
	assert.Equal(t, t0.Add(3*time.Minute), last.Timestamp)
}

func TestObserve_SuppressesWithinWindow(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, 30*time.Second, time.Second)
	ctx := context.Background()

	out, err := tr.Observe(ctx, 1, t0, Meta{})
	require.NoError(t, err)
	require.True(t, out.Emitted())

	for _, d := range []time.Duration{0, 10 * time.Second, 29*time.Second + 999*time.Millisecond, -5 * time.Second} {
		out, err := tr.Observe(ctx, 1, t0.Add(d), Meta{})
		require.NoError(t, err)
		assert.True(t, out.Suppressed, "offset %s", d)
		assert.False(t, out.Emitted())
		assert.Equal(t, models.StateInside, out.State)
	}
	assert.Len(t, store.kinds(1), 1)
	// cache hits never reach the store
	assert.Equal(t, int32(1), store.commits.Load())

	out, err = tr.Observe(ctx, 1, t0.Add(30*time.Second), Meta{})
	require.NoError(t, err)
	require.True(t, out.Emitted())
	assert.Equal(t, models.KindExit, out.Event.Kind)
}

func TestObserve_StaleCacheUsesStore(t *testing.T) {
	store := newMemStore()
	a := NewTracker(store, 30*time.Second, time.Second)
	b := NewTracker(store, 30*time.Second, time.Second)
	ctx := context.Background()

	_, err := a.Observe(ctx, 3, t0, Meta{})
	require.NoError(t, err)
	// another process records the exit
	_, err = b.Observe(ctx, 3, t0.Add(time.Minute), Meta{})
	require.NoError(t, err)

	// a's cache still holds the entry; the store decides
	out, err := a.Observe(ctx, 3, t0.Add(time.Minute+10*time.Second), Meta{})
	require.NoError(t, err)
	assert.True(t, out.Suppressed)
	assert.Equal(t, models.StateOutside, out.State)

	out, err = a.Observe(ctx, 3, t0.Add(2*time.Minute), Meta{})
	require.NoError(t, err)
	require.True(t, out.Emitted())
	assert.Equal(t, models.KindEntry, out.Event.Kind)
	assert.Equal(t, []models.EventKind{models.KindEntry, models.KindExit, models.KindEntry}, store.kinds(3))
}

func TestObserve_PersistenceFailure(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, 30*time.Second, time.Second)
	ctx := context.Background()

	store.commitErr = errors.New("connection reset")
	_, err := tr.Observe(ctx, 5, t0, Meta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrPersistence)
	assert.Nil(t, tr.cached(5))

	store.commitErr = nil
	out, err := tr.Observe(ctx, 5, t0.Add(time.Second), Meta{})
	require.NoError(t, err)
	require.True(t, out.Emitted())
	assert.Equal(t, models.KindEntry, out.Event.Kind)
}

func TestObserve_Timeout(t *testing.T) {
	store := newMemStore()
	store.block = true
	tr := NewTracker(store, 30*time.Second, 20*time.Millisecond)

	_, err := tr.Observe(context.Background(), 5, t0, Meta{})
	assert.ErrorIs(t, err, apperror.ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestObserve_InvalidIdentity(t *testing.T) {
	tr := NewTracker(newMemStore(), 30*time.Second, time.Second)
	_, err := tr.Observe(context.Background(), 0, t0, Meta{})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestObserve_ConcurrentSameIdentity(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, 30*time.Second, time.Second)

	var (
		wg      sync.WaitGroup
		emitted atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := tr.Observe(context.Background(), 9, t0.Add(time.Duration(i)*time.Millisecond), Meta{})
			assert.NoError(t, err)
			if out.Emitted() {
				emitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), emitted.Load())
	assert.Len(t, store.kinds(9), 1)
	assert.Zero(t, tr.locks.size())
}

func TestResetCache(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, 30*time.Second, time.Second)
	_, err := tr.Observe(context.Background(), 2, t0, Meta{})
	require.NoError(t, err)

	tr.ResetCache()
	assert.Nil(t, tr.cached(2))
}
