// Package system provides the wall clock used for row timestamps.
package system

import "time"

// Clock implements catalog.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC with second precision, matching the
// TIMESTAMP_UTC column format.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
