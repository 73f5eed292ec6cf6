package domain

import (
	"fmt"
	"strings"
	"time"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// Request constraints (keep in sync with the HTTP handlers)
const (
	MaxIDLen       = 128
	MaxTimezoneLen = 64
	// LocalTimeLayout is the wall-clock format accepted from the dashboard.
	LocalTimeLayout = "2006-01-02T15:04"
	DateLayout      = "2006-01-02"
)

// ValidateSlot checks a (day, hour) pair received from a drop or hover.
func ValidateSlot(s TimeSlot) []FieldError {
	var errs []FieldError
	if s.Day < 0 || s.Day > 6 {
		errs = append(errs, FieldError{"day", "must be between 0 and 6"})
	}
	if s.Hour < 0 || s.Hour > 23 {
		errs = append(errs, FieldError{"hour", "must be between 0 and 23"})
	}
	return errs
}

// ValidateEventKey checks the "namespace:id" identifier used on the wire.
func ValidateEventKey(raw string) (EventKey, []FieldError) {
	if raw == "" {
		return EventKey{}, []FieldError{{"event_key", "required"}}
	}
	if len(raw) > MaxIDLen+len(NamespacePost)+1 {
		return EventKey{}, []FieldError{{"event_key", fmt.Sprintf("max length %d", MaxIDLen)}}
	}
	k, ok := ParseEventKey(raw)
	if !ok {
		return EventKey{}, []FieldError{{"event_key", "must look like post:<id> or ai:<id>"}}
	}
	return k, nil
}

// ValidateLocalTime parses a wall-clock publish time and rejects values before now
// (allowing skew). The returned value carries no zone; callers convert it.
func ValidateLocalTime(raw string) (time.Time, []FieldError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, []FieldError{{"local_time", "required"}}
	}
	t, err := time.Parse(LocalTimeLayout, raw)
	if err != nil {
		return time.Time{}, []FieldError{{"local_time", "expected YYYY-MM-DDTHH:MM"}}
	}
	return t, nil
}

// ValidateNotPast rejects instants earlier than now minus skew.
func ValidateNotPast(at, now time.Time, skew time.Duration) []FieldError {
	if at.Before(now.Add(-skew)) {
		return []FieldError{{"local_time", "must not be in the past"}}
	}
	return nil
}

// ValidateTimezoneName performs the cheap checks; resolution happens in the timezone package.
func ValidateTimezoneName(name string) []FieldError {
	if strings.TrimSpace(name) == "" {
		return []FieldError{{"timezone", "required"}}
	}
	if len(name) > MaxTimezoneLen {
		return []FieldError{{"timezone", fmt.Sprintf("max length %d", MaxTimezoneLen)}}
	}
	return nil
}

// ValidateWeekParam parses the ?week= query value.
func ValidateWeekParam(raw string) (time.Time, []FieldError) {
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, []FieldError{{"week", "expected YYYY-MM-DD"}}
	}
	return t, nil
}
