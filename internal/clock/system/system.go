// Package system supplies the wall clock the pipeline runs on. Stage
// services take a content.Clock so tests can pin time; this is the one
// implementation that actually ticks.
package system

import "time"

// Clock reads the system time. Timestamps land in Postgres rows and job
// payloads, so every read is normalized to UTC up front.
type Clock struct{}

// New returns the process-wide wall clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
