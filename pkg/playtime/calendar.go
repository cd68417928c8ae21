package playtime

import "time"

// Calendar resolves "today" in a fixed time zone.
type Calendar struct {
	location *time.Location
}

// NewCalendar loads the named time zone. An unknown name falls back to UTC
// so a misconfigured zone degrades the day boundary rather than the service.
func NewCalendar(zoneName string) Calendar {
	location, err := time.LoadLocation(zoneName)
	if err != nil {
		location = time.UTC
	}
	return Calendar{location: location}
}

// DayOf converts a wall-clock instant into the calendar day it falls on.
func (calendar Calendar) DayOf(instant time.Time) CalendarDay {
	return CalendarDay{value: instant.In(calendar.location).Format(calendarDayLayout)}
}

// Location exposes the resolved zone.
func (calendar Calendar) Location() *time.Location {
	return calendar.location
}
