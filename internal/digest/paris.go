package digest

import "time"

var parisLocation = loadParis()

func loadParis() *time.Location {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return time.FixedZone("CET", 3600)
	}
	return loc
}

// ParisTime converts t to Paris local time.
func ParisTime(t time.Time) time.Time {
	return t.In(parisLocation)
}

// ParisDate formats t as the Paris calendar date.
func ParisDate(t time.Time) string {
	return ParisTime(t).Format("2006-01-02")
}

// IsParisFriday reports whether it is Friday in Paris at t.
func IsParisFriday(t time.Time) bool {
	return ParisTime(t).Weekday() == time.Friday
}
