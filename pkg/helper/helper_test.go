package helper

import (
	"testing"
	"time"
)

func TestToClock(t *testing.T) {
	cases := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"zero", 0, NoTimePlaceholder},
		{"negative", -time.Minute, NoTimePlaceholder},
		{"seconds only", 42 * time.Second, "0:00:42"},
		{"minutes and seconds", 20*time.Minute + 7*time.Second, "0:20:07"},
		{"over an hour", 2*time.Hour + 5*time.Minute + 3*time.Second, "2:05:03"},
		{"rounds subsecond", time.Minute + 700*time.Millisecond, "0:01:01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ToClock(tc.in); got != tc.want {
				t.Errorf("ToClock(%v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestToClockPtr(t *testing.T) {
	if got := ToClockPtr(nil); got != NoTimePlaceholder {
		t.Errorf("nil duration rendered as %q", got)
	}
	d := time.Hour
	if got := ToClockPtr(&d); got != "1:00:00" {
		t.Errorf("ToClockPtr(1h) = %q", got)
	}
}

func TestToSplit(t *testing.T) {
	start := time.Date(2026, 6, 14, 9, 0, 0, 0, time.UTC)
	if got := ToSplit(start, nil); got != NoTimePlaceholder {
		t.Errorf("open split rendered as %q", got)
	}
	end := start.Add(20 * time.Minute)
	if got := ToSplit(start, &end); got != "0:20:00" {
		t.Errorf("ToSplit = %q", got)
	}
}
