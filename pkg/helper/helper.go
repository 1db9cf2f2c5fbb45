package helper

import (
	"fmt"
	"time"
)

const NoTimePlaceholder = "--:--:--"

// ToClock formats a duration as h:mm:ss for split and total columns.
// Non-positive durations render as the placeholder.
func ToClock(d time.Duration) string {
	if d <= 0 {
		return NoTimePlaceholder
	}
	d = d.Round(time.Second)
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}

// ToClockPtr renders a possibly-missing duration.
func ToClockPtr(d *time.Duration) string {
	if d == nil {
		return NoTimePlaceholder
	}
	return ToClock(*d)
}

// ToSplit formats the delta between two instants, placeholder when the
// segment is still open.
func ToSplit(start time.Time, end *time.Time) string {
	if end == nil {
		return NoTimePlaceholder
	}
	return ToClock(end.Sub(start))
}
