package model

import "time"

// Now returns the current UTC time truncated to the microsecond precision
// of DATETIME(6) columns.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
