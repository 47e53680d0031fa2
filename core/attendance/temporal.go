package attendance

import (
	"strconv"
	"strings"
	"time"
)

var (
	dateLayouts = []string{"02/01/2006", "2006-01-02", "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05"}
	timeLayouts = []string{"15:04:05", "15:04", "15:04:05.000000"}

	// spreadsheet serial dates count days since this date
	serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
)

// ParseDate parses a calendar date and returns midnight of that day in loc.
// Accepted: DD/MM/YYYY, YYYY-MM-DD (optionally followed by a time, which is dropped)
// and spreadsheet serial day numbers.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, &MalformedTemporalError{Field: "date", Value: value}
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 && f < 2958466 { // 9999-12-31
		d := serialEpoch.AddDate(0, 0, int(f))
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, &MalformedTemporalError{Field: "date", Value: value}
}

// ParseClock parses a time of day and returns its offset from midnight.
// Accepted: HH:MM:SS, HH:MM and spreadsheet day fractions in [0, 1).
func ParseClock(value string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, &MalformedTemporalError{Field: "time", Value: value}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f < 1 {
		hours := int(f * 24)
		minutes := int(f*24*60) % 60
		seconds := int(f*24*3600) % 60
		return time.Duration(hours)*time.Hour +
			time.Duration(minutes)*time.Minute +
			time.Duration(seconds)*time.Second, nil
	}
	return 0, &MalformedTemporalError{Field: "time", Value: value}
}

// Combine parses a date and a time of day into a wall-clock instant in loc.
func Combine(date, clock string, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	offset, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	h := int(offset / time.Hour)
	m := int(offset % time.Hour / time.Minute)
	sec := int(offset % time.Minute / time.Second)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, day.Location()), nil
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
