package models

import (
	"time"

	"github.com/google/uuid"
)

// FrameTask is the message published to NATS for worker processing.
type FrameTask struct {
	CameraID  string    `json:"camera_id"`
	FrameID   uuid.UUID `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	FrameRef  string    `json:"frame_ref"` // MinIO object key
	Width     int       `json:"width"`
}

// AttendanceMessage is published on the ATTENDANCE stream after an event commits.
type AttendanceMessage struct {
	Event    AttendanceEvent `json:"event"`
	Name     string          `json:"name"`
	Distance float64         `json:"distance"`
}
