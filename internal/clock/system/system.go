// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reports UTC time truncated to microseconds, the resolution Postgres
// keeps for timestamptz. Records read back from the database then compare
// equal to the ones that were saved.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
