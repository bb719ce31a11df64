// Package schedule decides whether a wall-clock instant falls inside
// the configured attendance window and what status a check-in at that
// instant receives.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Status classifies a check-in relative to the window.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Window is an attendance window within a single calendar day,
// expressed in minutes since local midnight. Both ends are inclusive.
// Windows that wrap past midnight are not supported and are rejected
// by New.
type Window struct {
	StartMinute      int
	EndMinute        int
	LateThresholdMin int
}

// New validates and builds a window.
func New(startMinute, endMinute, lateThresholdMin int) (Window, error) {
	if startMinute < 0 || startMinute > 1439 || endMinute < 0 || endMinute > 1439 {
		return Window{}, fmt.Errorf("window minutes must be in [0,1439], got start=%d end=%d", startMinute, endMinute)
	}
	if endMinute < startMinute {
		return Window{}, errors.New("attendance window must not wrap past midnight (end < start)")
	}
	if lateThresholdMin < 0 {
		return Window{}, fmt.Errorf("late threshold must be >= 0, got %d", lateThresholdMin)
	}
	return Window{StartMinute: startMinute, EndMinute: endMinute, LateThresholdMin: lateThresholdMin}, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Contains reports whether t falls inside the window. The caller is
// expected to pass t already in the deployment's local zone; no
// timezone conversion happens here.
func (w Window) Contains(t time.Time) bool {
	m := minuteOfDay(t)
	return m >= w.StartMinute && m <= w.EndMinute
}

// Classify returns the status a check-in at t would receive. It is
// computed independently of Contains: an "absent" result alone does
// not block marking, gating on the open window is the caller's job.
func (w Window) Classify(t time.Time) Status {
	m := minuteOfDay(t)
	switch {
	case m <= w.StartMinute+w.LateThresholdMin:
		return StatusPresent
	case m <= w.EndMinute:
		return StatusLate
	default:
		return StatusAbsent
	}
}

// String renders the window as "HH:MM-HH:MM" for user-facing messages.
func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		w.StartMinute/60, w.StartMinute%60, w.EndMinute/60, w.EndMinute%60)
}
