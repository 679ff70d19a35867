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

type FrameHandler func(ctx context.Context, task models.FrameTask) error

type AttendanceHandler func(ctx context.Context, msg models.AttendanceMessage) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL, name string) (*Consumer, error) {
	nc, js, err := connect(natsURL, name)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeFrames fetches frame tasks and hands them to workerCount goroutines.
// A handler error NAKs the message for redelivery; a payload that does not
// decode is terminated.
func (c *Consumer) ConsumeFrames(ctx context.Context, consumerName string, handler FrameHandler, workerCount int) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	stream, err := c.js.Stream(ctx, FramesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", FramesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		FilterSubject: FramesSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)
	go fetchLoop(ctx, cons, workerCount, msgCh)

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				task, err := DecodeFrameTask(msg.Data())
				if err != nil {
					slog.Error("drop malformed frame task", "worker", workerID, "error", err, "subject", msg.Subject())
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, task); err != nil {
					slog.Error("process frame", "worker", workerID, "camera_id", task.CameraID, "frame_id", task.FrameID, "error", err)
					_ = msg.NakWithDelay(time.Second)
					continue
				}
				_ = msg.Ack()
			}
		}(i)
	}

	slog.Info("frame consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeAttendance delivers new attendance events, used by the API to feed
// websocket clients.
func (c *Consumer) ConsumeAttendance(ctx context.Context, consumerName string, handler AttendanceHandler) error {
	stream, err := c.js.Stream(ctx, AttendanceStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AttendanceStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: AttendanceSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, 16)
	go fetchLoop(ctx, cons, 10, msgCh)
	go func() {
		for msg := range msgCh {
			var am models.AttendanceMessage
			if err := json.Unmarshal(msg.Data(), &am); err != nil {
				_ = msg.Term()
				continue
			}
			if err := handler(ctx, am); err != nil {
				slog.Error("process attendance message", "error", err)
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}()

	slog.Info("attendance consumer started", "consumer", consumerName)
	return nil
}

// SubscribeRosterChanged calls fn for every roster change notification until
// the returned subscription is drained.
func (c *Consumer) SubscribeRosterChanged(fn func(RosterChange)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(RosterChangedSubject, func(m *nats.Msg) {
		var change RosterChange
		if err := json.Unmarshal(m.Data, &change); err != nil {
			slog.Warn("malformed roster change", "error", err)
			change = RosterChange{Reason: "unknown"}
		}
		fn(change)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", RosterChangedSubject, err)
	}
	return sub, nil
}

// fetchLoop pulls batches into out until ctx is done, then closes out.
func fetchLoop(ctx context.Context, cons jetstream.Consumer, batch int, out chan<- jetstream.Msg) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := cons.Fetch(batch, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("fetch messages", "consumer", cons.CachedInfo().Name, "error", err)
			time.Sleep(time.Second)
			continue
		}
		for msg := range msgs.Messages() {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// DecodeFrameTask parses and checks a FRAMES payload.
func DecodeFrameTask(data []byte) (models.FrameTask, error) {
	var task models.FrameTask
	if err := json.Unmarshal(data, &task); err != nil {
		return task, fmt.Errorf("decode frame task: %w", err)
	}
	if task.CameraID == "" || task.FrameRef == "" {
		return task, fmt.Errorf("frame task missing camera_id or frame_ref")
	}
	if task.Timestamp.IsZero() {
		return task, fmt.Errorf("frame task missing timestamp")
	}
	return task, nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
