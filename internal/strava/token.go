package strava

import "time"

// RefreshBuffer is how long before the real expiry a token is already
// treated as expired, so a request never starts with a token that dies
// mid-flight.
const RefreshBuffer = 5 * time.Minute

// IsTokenExpired reports whether a token expiring at expiresAt must be
// refreshed at now. An unknown expiry counts as expired.
func IsTokenExpired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil || expiresAt.IsZero() {
		return true
	}
	return !now.Before(expiresAt.Add(-RefreshBuffer))
}

// DayBounds returns the first and last second of the calendar day
// containing now, in loc.
func DayBounds(now time.Time, loc *time.Location) (start, end time.Time) {
	local := now.In(loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end = start.AddDate(0, 0, 1).Add(-time.Second)
	return start, end
}
