package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultNotificationTime = "08:00"

	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04"
	DateTimeLayout = "2006-01-02T15:04"
)

// Event is a titled reminder with a target local date and time.
type Event struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Date             string    `json:"date"`             // YYYY-MM-DDTHH:MM
	NotificationTime string    `json:"notificationTime"` // HH:MM
	IsNotified       bool      `json:"isNotified"`
	CreatedAt        time.Time `json:"createdAt"`
}

// EventPatch carries a partial update. Nil fields are left untouched.
type EventPatch struct {
	Title            *string `json:"title,omitempty"`
	Date             *string `json:"date,omitempty"`
	NotificationTime *string `json:"notificationTime,omitempty"`
	IsNotified       *bool   `json:"isNotified,omitempty"`
}

// DatePart returns the calendar date portion of the stored date field.
func (e *Event) DatePart() string {
	return DatePart(e.Date)
}

// Normalize fills the default notification time and rewrites Date so that
// its date portion is followed by NotificationTime.
func (e *Event) Normalize() {
	if e.NotificationTime == "" {
		e.NotificationTime = DefaultNotificationTime
	}
	if d := e.DatePart(); d != "" {
		e.Date = d + "T" + e.NotificationTime
	}
}

// Apply merges p onto e. IsNotified never goes back from true to false.
func (e *Event) Apply(p EventPatch) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.NotificationTime != nil {
		e.NotificationTime = *p.NotificationTime
	}
	if p.IsNotified != nil && *p.IsNotified {
		e.IsNotified = true
	}
	e.Normalize()
}

// FireAt returns the local instant at which the event's alert is due.
func (e *Event) FireAt(loc *time.Location) (time.Time, error) {
	return FireInstant(e.Date, e.NotificationTime, loc)
}

// FormatWhen returns a short human form of the fire time.
func (e *Event) FormatWhen() string {
	return strings.Replace(e.Date, "T", " ", 1)
}

// DatePart strips a time component from a date string.
func DatePart(date string) string {
	if i := strings.IndexByte(date, 'T'); i >= 0 {
		return date[:i]
	}
	return date
}

// FireInstant combines the date portion of date with clock (HH:MM or
// HH:MM:SS) in loc.
func FireInstant(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s := DatePart(date) + "T" + clock
	for _, layout := range []string{DateTimeLayout, DateTimeLayout + ":05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// ValidTime reports whether s is an HH:MM 24-hour time.
func ValidTime(s string) bool {
	if len(s) != len(TimeLayout) {
		return false
	}
	_, err := time.Parse(TimeLayout, s)
	return err == nil
}
