package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Day returns midnight UTC of t's calendar date in loc. Dates stored this way
// compare and sort without timezone surprises.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = IndiaLocation
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return Day(a, loc).Equal(Day(b, loc))
}

// IsWeekday reports whether t is Monday to Friday in IST.
func IsWeekday(t time.Time) bool {
	wd := t.In(IndiaLocation).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsMarketOpen reports whether t is within the 09:15 to 15:30 IST session on a weekday.
func IsMarketOpen(t time.Time) bool {
	if !IsWeekday(t) {
		return false
	}
	ist := t.In(IndiaLocation)
	minutes := ist.Hour()*60 + ist.Minute()
	return minutes >= 555 && minutes < 930
}

// DaysBetween counts whole calendar days from a to b in IST. Negative when b is earlier.
func DaysBetween(a, b time.Time) int {
	return int(Day(b, IndiaLocation).Sub(Day(a, IndiaLocation)).Hours() / 24)
}
