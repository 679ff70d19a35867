package queue

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	FramesStreamName      = "FRAMES"
	FramesSubjectBase     = "frames"
	AttendanceStreamName  = "ATTENDANCE"
	AttendanceSubjectBase = "attendance"

	// RosterChangedSubject is a plain NATS subject, not a stream: a missed
	// notification is recovered by the next one or by a restart.
	RosterChangedSubject = "roster.changed"
)

func connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

func frameSubject(cameraID string) string {
	return FramesSubjectBase + "." + SanitizeToken(cameraID)
}

func attendanceSubject(kind string) string {
	return AttendanceSubjectBase + "." + SanitizeToken(kind)
}

// SanitizeToken replaces characters NATS treats as subject syntax. The result
// is also a valid consumer name.
func SanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	b := []byte(s)
	for i, c := range b {
		switch c {
		case '.', '*', '>', ' ', '/', '\\', '\t', '\r', '\n':
			b[i] = '_'
		}
	}
	return string(b)
}
