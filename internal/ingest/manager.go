package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/presence/internal/config"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/observability"
	"github.com/your-org/presence/internal/storage"
)

// FrameStore is the subset of the object store the ingestor needs.
type FrameStore interface {
	PutJPEG(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys []string) error
}

// FramePublisher hands frame tasks to the recognition workers.
type FramePublisher interface {
	PublishFrame(ctx context.Context, task models.FrameTask) error
}

const (
	initialBackoff  = 2 * time.Second
	maxBackoff      = time.Minute
	cleanupInterval = time.Minute
)

// Manager keeps one extractor running per configured camera, restarting
// it with exponential backoff when the feed drops.
type Manager struct {
	extractor Extractor
	frames    FrameStore
	publisher FramePublisher
	width     int
	retention int
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) bool

	mu     sync.Mutex
	active map[string]bool
}

func NewManager(extractor Extractor, frames FrameStore, publisher FramePublisher, width, retention int) *Manager {
	return &Manager{
		extractor: extractor,
		frames:    frames,
		publisher: publisher,
		width:     width,
		retention: retention,
		now:       time.Now,
		sleep:     sleepCtx,
		active:    make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, cameras []config.CameraConfig) {
	var wg sync.WaitGroup
	for _, cam := range cameras {
		cam := cam
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runCamera(ctx, cam)
		}()
	}
	if m.retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.cleanupLoop(ctx, cameras)
		}()
	}
	wg.Wait()
}

// ActiveCount reports how many cameras are currently streaming.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) runCamera(ctx context.Context, cam config.CameraConfig) {
	log := slog.With("camera_id", cam.ID, "url", redact(cam.URL))
	backoff := initialBackoff

	for ctx.Err() == nil {
		started := m.now()
		m.setActive(cam.ID, true)
		log.Info("camera started", "fps", cam.FPS)

		err := m.extractor.Extract(ctx, cam.URL, cam.FPS, m.width, func(frame []byte) error {
			return m.handleFrame(ctx, cam.ID, frame)
		})
		m.setActive(cam.ID, false)
		if ctx.Err() != nil {
			log.Info("camera stopped")
			return
		}

		// A feed that ran for a while before dropping starts over from the
		// shortest delay.
		if m.now().Sub(started) > maxBackoff {
			backoff = initialBackoff
		}
		log.Warn("camera feed ended, restarting", "error", err, "backoff", backoff)
		if !m.sleep(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (m *Manager) handleFrame(ctx context.Context, cameraID string, frame []byte) error {
	task := models.FrameTask{
		CameraID:  cameraID,
		FrameID:   uuid.New(),
		Timestamp: m.now().UTC(),
		Width:     m.width,
	}
	task.FrameRef = storage.FrameKey(cameraID, task.Timestamp, task.FrameID)

	if err := m.frames.PutJPEG(ctx, task.FrameRef, frame); err != nil {
		return fmt.Errorf("upload frame: %w", err)
	}
	if err := m.publisher.PublishFrame(ctx, task); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

func (m *Manager) setActive(cameraID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.active[cameraID] = true
	} else {
		delete(m.active, cameraID)
	}
	observability.ActiveCameras.Set(float64(len(m.active)))
}

func (m *Manager) cleanupLoop(ctx context.Context, cameras []config.CameraConfig) {
	for m.sleep(ctx, cleanupInterval) {
		for _, cam := range cameras {
			if _, err := m.pruneFrames(ctx, cam.ID); err != nil {
				slog.Warn("frame cleanup failed", "camera_id", cam.ID, "error", err)
			}
		}
	}
}

// pruneFrames deletes the oldest frames of a camera beyond the retention
// count. Frame keys sort by capture time.
func (m *Manager) pruneFrames(ctx context.Context, cameraID string) (int, error) {
	keys, err := m.frames.List(ctx, storage.FramesPrefix+cameraID+"/")
	if err != nil {
		return 0, err
	}
	if len(keys) <= m.retention {
		return 0, nil
	}
	sort.Strings(keys)
	stale := keys[:len(keys)-m.retention]
	if err := m.frames.Delete(ctx, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
