package ros

import (
	gotime "time"
)

// Time is a ROS timestamp carried on the wire as integer {secs,nsecs}.
type Time struct {
	temporal
}

// NewTime creates a Time from the given seconds and nanoseconds.
func NewTime(sec uint32, nsec uint32) Time {
	sec, nsec = normalizeTemporal(int64(sec), int64(nsec))
	return Time{temporal{sec, nsec}}
}

// Now creates a Time from the current wall clock.
func Now() Time {
	var t Time
	t.FromNSec(uint64(gotime.Now().UnixNano()))
	return t
}
