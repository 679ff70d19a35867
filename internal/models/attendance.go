package models

import (
	"fmt"
	"time"
)

type EventKind string

const (
	KindEntry EventKind = "entry"
	KindExit  EventKind = "exit"
)

func (k EventKind) Valid() bool {
	return k == KindEntry || k == KindExit
}

// ParseEventKind validates a kind read from storage or the wire.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// AttendanceEvent is one committed entry or exit. Immutable once written.
type AttendanceEvent struct {
	ID          int64     `json:"id" db:"id"`
	IdentityID  int64     `json:"identity_id" db:"identity_id"`
	Timestamp   time.Time `json:"timestamp" db:"ts"`
	Kind        EventKind `json:"kind" db:"kind"`
	CameraID    string    `json:"camera_id,omitempty" db:"camera_id"`
	SnapshotKey string    `json:"snapshot_key,omitempty" db:"snapshot_key"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// PresenceState is derived from the most recent event of an identity.
type PresenceState string

const (
	StateNoRecord PresenceState = "no_record"
	StateInside   PresenceState = "inside"
	StateOutside  PresenceState = "outside"
)

// StateAfter returns the presence state implied by last (nil means no record).
func StateAfter(last *AttendanceEvent) PresenceState {
	switch {
	case last == nil:
		return StateNoRecord
	case last.Kind == KindEntry:
		return StateInside
	default:
		return StateOutside
	}
}

// NextKind is the kind a new event must have to keep entry/exit alternating.
func NextKind(state PresenceState) EventKind {
	if state == StateInside {
		return KindExit
	}
	return KindEntry
}
