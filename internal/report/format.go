package report

import (
	"fmt"
	"time"

	"github.com/your-org/presence/internal/apperror"
)

const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, apperror.Validation("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// splitHM truncates d to whole hours and remaining whole minutes.
func splitHM(d time.Duration) (hours, minutes int) {
	secs := int64(d / time.Second)
	return int(secs / 3600), int(secs % 3600 / 60)
}

// FormatDuration renders d as "Xh Ym".
func FormatDuration(d time.Duration) string {
	h, m := splitHM(d)
	return fmt.Sprintf("%dh %dm", h, m)
}
