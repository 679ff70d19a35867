// Package recognition is the frame loop: it turns a stored camera frame
// into attendance events.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/matcher"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/observability"
	"github.com/your-org/presence/internal/presence"
	"github.com/your-org/presence/internal/roster"
	"github.com/your-org/presence/internal/storage"
	"github.com/your-org/presence/internal/vision"
)

type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	PutJPEG(ctx context.Context, key string, data []byte) error
}

type Observer interface {
	Observe(ctx context.Context, identityID int64, now time.Time, meta presence.Meta) (presence.Outcome, error)
}

type RosterView interface {
	Snapshot() *roster.Snapshot
}

type SnapshotAnnotator interface {
	SetSnapshotKey(ctx context.Context, eventID int64, key string) error
}

type Publisher interface {
	PublishAttendance(ctx context.Context, msg models.AttendanceMessage) error
}

type ReportInvalidator interface {
	Invalidate(ctx context.Context, identityID int64) error
}

// Deps are the collaborators of a Pipeline. Annotator, Publisher and
// Invalidator are optional.
type Deps struct {
	Objects     ObjectStore
	Vision      vision.Provider
	Roster      RosterView
	Presence    Observer
	Annotator   SnapshotAnnotator
	Publisher   Publisher
	Invalidator ReportInvalidator
}

type Options struct {
	Tolerance         float64
	MinFaceConfidence float32
}

type Pipeline struct {
	Deps
	opts Options
}

func NewPipeline(deps Deps, opts Options) *Pipeline {
	if opts.Tolerance == 0 {
		opts.Tolerance = matcher.DefaultTolerance
	}
	return &Pipeline{Deps: deps, opts: opts}
}

// ProcessFrame runs one frame through detection, matching and the presence
// state machine. It returns an error only when the frame should be retried:
// the frame could not be loaded or an event could not be persisted.
func (p *Pipeline) ProcessFrame(ctx context.Context, task models.FrameTask) error {
	data, err := p.Objects.Get(ctx, task.FrameRef)
	if err != nil {
		return fmt.Errorf("load frame %s: %w", task.FrameRef, err)
	}
	observability.FramesProcessed.WithLabelValues(task.CameraID).Inc()

	faces, err := p.Vision.DetectAndEncode(ctx, data)
	if err != nil {
		// a frame the provider cannot read will not improve on redelivery
		slog.Warn("detect faces", "camera_id", task.CameraID, "frame_id", task.FrameID, "error", err)
		return nil
	}
	if len(faces) == 0 {
		return nil
	}
	observability.FacesDetected.WithLabelValues(task.CameraID).Add(float64(len(faces)))

	snap := p.Roster.Snapshot()
	seen := make(map[int64]bool, len(faces))
	var persistErr error

	for _, face := range faces {
		if face.Confidence < p.opts.MinFaceConfidence {
			continue
		}
		res, err := matcher.Match(face.Embedding, snap, p.opts.Tolerance)
		if err != nil {
			slog.Warn("match face", "camera_id", task.CameraID, "error", err)
			continue
		}
		if !res.Matched {
			observability.FacesMatched.WithLabelValues("unknown").Inc()
			continue
		}
		observability.FacesMatched.WithLabelValues("known").Inc()
		if seen[res.IdentityID] {
			continue
		}
		seen[res.IdentityID] = true

		out, err := p.Presence.Observe(ctx, res.IdentityID, task.Timestamp, presence.Meta{CameraID: task.CameraID})
		if err != nil {
			if errors.Is(err, apperror.ErrPersistence) && persistErr == nil {
				persistErr = err
			}
			continue
		}
		if out.Emitted() {
			p.afterEmit(ctx, *out.Event, res, face)
		}
	}

	if persistErr != nil {
		return fmt.Errorf("frame %s: %w", task.FrameID, persistErr)
	}
	return nil
}

// afterEmit does the best-effort follow-up of a committed event. Failures
// are logged; the event itself is already durable. ev is a copy because
// the tracker caches the committed pointer.
func (p *Pipeline) afterEmit(ctx context.Context, ev models.AttendanceEvent, res matcher.Result, face vision.Face) {
	if len(face.Crop) > 0 && p.Annotator != nil {
		key := storage.SnapshotKey(ev.IdentityID, ev.ID)
		if err := p.Objects.PutJPEG(ctx, key, face.Crop); err != nil {
			slog.Warn("store face snapshot", "identity_id", ev.IdentityID, "error", err)
		} else if err := p.Annotator.SetSnapshotKey(ctx, ev.ID, key); err != nil {
			slog.Warn("attach face snapshot", "event_id", ev.ID, "error", err)
		} else {
			ev.SnapshotKey = key
		}
	}

	if p.Invalidator != nil {
		if err := p.Invalidator.Invalidate(ctx, ev.IdentityID); err != nil {
			slog.Warn("invalidate report cache", "identity_id", ev.IdentityID, "error", err)
		}
	}

	if p.Publisher != nil {
		msg := models.AttendanceMessage{Event: ev, Name: res.Name, Distance: res.Distance}
		if err := p.Publisher.PublishAttendance(ctx, msg); err != nil {
			slog.Warn("publish attendance", "identity_id", ev.IdentityID, "error", err)
		}
	}
}
