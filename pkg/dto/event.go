package dto

import "time"

// ObservationRequest records a sighting without going through the camera
// pipeline. Timestamp defaults to the server clock.
type ObservationRequest struct {
	IdentityID int64      `json:"identity_id" binding:"required"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	CameraID   string     `json:"camera_id,omitempty"`
}

type ObservationResponse struct {
	Emitted bool           `json:"emitted"`
	State   string         `json:"state"`
	Event   *EventResponse `json:"event,omitempty"`
}

type EventResponse struct {
	ID          int64  `json:"id"`
	IdentityID  int64  `json:"identity_id"`
	Kind        string `json:"kind"`
	Timestamp   string `json:"timestamp"`
	CameraID    string `json:"camera_id,omitempty"`
	SnapshotURL string `json:"snapshot_url,omitempty"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

// WSEvent is pushed to websocket subscribers for every committed event.
type WSEvent struct {
	Type     string        `json:"type"`
	Name     string        `json:"name,omitempty"`
	Distance float64       `json:"distance"`
	Data     EventResponse `json:"data"`
}

type PurgeRequest struct {
	IncludeIdentities bool `json:"include_identities"`
}

type PurgeResponse struct {
	Events     int64          `json:"events"`
	Identities int64          `json:"identities"`
	Objects    map[string]int `json:"objects"`
}
