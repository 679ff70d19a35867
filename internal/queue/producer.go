package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/presence/internal/models"
)

// RosterChange is broadcast after identities are added, replaced or purged.
type RosterChange struct {
	Reason     string    `json:"reason"`
	IdentityID int64     `json:"identity_id,omitempty"`
	At         time.Time `json:"at"`
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL, name string) (*Producer, error) {
	nc, js, err := connect(natsURL, name)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

var streamConfigs = []jetstream.StreamConfig{
	{
		Name:        FramesStreamName,
		Subjects:    []string{FramesSubjectBase + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      2 * time.Minute,
		MaxMsgs:     100000,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		Duplicates:  30 * time.Second,
		Description: "Camera frames awaiting recognition",
	},
	{
		Name:        AttendanceStreamName,
		Subjects:    []string{AttendanceSubjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Description: "Committed entry and exit events",
	},
}

// EnsureStreams creates or updates the JetStream streams, retrying while
// the server comes up.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	const maxAttempts = 30
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = nil
		for _, cfg := range streamConfigs {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				lastErr = fmt.Errorf("create stream %s: %w", cfg.Name, err)
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
		}
		if lastErr == nil {
			slog.Info("ensured NATS streams")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("%w (after %d attempts)", lastErr, maxAttempts)
}

// PublishFrame enqueues a frame. The frame ID doubles as the JetStream
// dedup ID so a retried publish is stored once.
func (p *Producer) PublishFrame(ctx context.Context, task models.FrameTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal frame task: %w", err)
	}
	_, err = p.js.Publish(ctx, frameSubject(task.CameraID), payload, jetstream.WithMsgID(task.FrameID.String()))
	if err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

func (p *Producer) PublishAttendance(ctx context.Context, msg models.AttendanceMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal attendance message: %w", err)
	}
	_, err = p.js.Publish(ctx, attendanceSubject(string(msg.Event.Kind)), payload,
		jetstream.WithMsgID(fmt.Sprintf("event-%d", msg.Event.ID)))
	if err != nil {
		return fmt.Errorf("publish attendance: %w", err)
	}
	return nil
}

// NotifyRosterChanged tells every worker to reload its roster.
func (p *Producer) NotifyRosterChanged(change RosterChange) error {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal roster change: %w", err)
	}
	if err := p.nc.Publish(RosterChangedSubject, payload); err != nil {
		return fmt.Errorf("publish roster change: %w", err)
	}
	return p.nc.Flush()
}

// QueueDepth returns the number of pending messages in the FRAMES stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, FramesStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
