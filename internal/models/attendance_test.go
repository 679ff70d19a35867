package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateAfterAndNextKind(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		last      *AttendanceEvent
		wantState PresenceState
		wantNext  EventKind
	}{
		{"no record", nil, StateNoRecord, KindEntry},
		{"after entry", &AttendanceEvent{Kind: KindEntry, Timestamp: now}, StateInside, KindExit},
		{"after exit", &AttendanceEvent{Kind: KindExit, Timestamp: now}, StateOutside, KindEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := StateAfter(tt.last)
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantNext, NextKind(state))
		})
	}
}

func TestParseEventKind(t *testing.T) {
	k, err := ParseEventKind("exit")
	assert.NoError(t, err)
	assert.Equal(t, KindExit, k)

	_, err = ParseEventKind("lunch")
	assert.Error(t, err)
}
