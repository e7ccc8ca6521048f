package booking

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	SlotLayout = "15:04"
)

// ParseDate parses a calendar date in YYYY-MM-DD form.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// NormalizeSlot parses a slot start in HH:MM form and reformats it so that
// lexicographic ordering matches chronological ordering ("9:00" -> "09:00").
func NormalizeSlot(s string) (string, error) {
	t, err := time.Parse(SlotLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid slot time %q: %w", s, err)
	}
	return t.Format(SlotLayout), nil
}

// SlotMoment combines a calendar date and a slot start into a point in time.
func SlotMoment(date time.Time, slotStart string) (time.Time, error) {
	t, err := time.Parse(SlotLayout, slotStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot time %q: %w", slotStart, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}
