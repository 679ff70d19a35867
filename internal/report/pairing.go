package report

import (
	"fmt"
	"time"

	"github.com/your-org/presence/internal/models"
)

// MidnightPolicy decides what happens to an interval that crosses a day boundary.
type MidnightPolicy string

const (
	// PolicySplit clips a crossing interval at the boundary and counts each
	// part towards its own day.
	PolicySplit MidnightPolicy = "split"
	// PolicyDrop counts only intervals fully inside the day.
	PolicyDrop MidnightPolicy = "drop"
)

func ParsePolicy(s string) (MidnightPolicy, error) {
	switch p := MidnightPolicy(s); p {
	case PolicySplit, PolicyDrop:
		return p, nil
	case "":
		return PolicySplit, nil
	default:
		return "", fmt.Errorf("unknown midnight policy %q", s)
	}
}

type Interval struct {
	Entry    time.Time     `json:"entry"`
	Exit     time.Time     `json:"exit"`
	Duration time.Duration `json:"duration"`
	// Clipped is set when Entry or Exit was moved to a day boundary.
	Clipped bool `json:"clipped,omitempty"`
}

// DayTotals is the time spent inside during one local calendar day.
type DayTotals struct {
	Date      string        `json:"date"`
	Total     time.Duration `json:"total"`
	Intervals []Interval    `json:"intervals"`
	// OpenSince is the start of an interval with no exit recorded yet.
	OpenSince *time.Time `json:"open_since,omitempty"`
}

// dayWindow holds the events needed to total one day: the events inside
// [Start, End) in ascending order, plus the nearest events on either side.
type dayWindow struct {
	Start, End time.Time
	Events     []models.AttendanceEvent
	Before     *models.AttendanceEvent
	After      *models.AttendanceEvent
}

// pairDay matches each entry with the next exit. A second entry before an
// exit restarts the open interval, and an exit with no open entry is ignored.
func pairDay(w dayWindow, policy MidnightPolicy) DayTotals {
	out := DayTotals{
		Date:      w.Start.Format(DateLayout),
		Intervals: []Interval{},
	}

	var (
		open        *time.Time
		openClipped bool
		openOrigin  time.Time
	)
	if policy == PolicySplit && w.Before != nil && w.Before.Kind == models.KindEntry {
		start := w.Start
		open, openClipped, openOrigin = &start, true, w.Before.Timestamp
	}

	for _, ev := range w.Events {
		switch ev.Kind {
		case models.KindEntry:
			ts := ev.Timestamp
			open, openClipped, openOrigin = &ts, false, ts
		case models.KindExit:
			if open == nil {
				continue
			}
			out.add(Interval{Entry: *open, Exit: ev.Timestamp, Clipped: openClipped})
			open = nil
		}
	}

	if open == nil {
		return out
	}
	switch {
	case w.After == nil:
		since := openOrigin
		out.OpenSince = &since
	case policy == PolicySplit && w.After.Kind == models.KindExit:
		out.add(Interval{Entry: *open, Exit: w.End, Clipped: true})
	}
	return out
}

func (d *DayTotals) add(iv Interval) {
	iv.Duration = iv.Exit.Sub(iv.Entry)
	if iv.Duration < 0 {
		return
	}
	d.Intervals = append(d.Intervals, iv)
	d.Total += iv.Duration
}

// DayBounds returns local midnight of day's calendar date in loc and the
// following midnight. The calendar date is read from day as given.
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
