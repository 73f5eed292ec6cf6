// Package timezone converts between user wall-clock times and the UTC instants
// used for storage. Every function takes the location explicitly.
package timezone

import (
	"fmt"
	"strings"
	"time"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
)

// Date is a civil calendar date with no zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) civil() time.Time { return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC) }

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date { return DateOf(d.civil().AddDate(0, 0, n)) }

func (d Date) Weekday() time.Weekday { return d.civil().Weekday() }

// DaysUntil returns the number of calendar days from d to o.
func (d Date) DaysUntil(o Date) int {
	return int(o.civil().Sub(d.civil()).Hours() / 24)
}

func (d Date) IsZero() bool { return d == Date{} }

// WallClock is a local time as the user reads it on the calendar.
type WallClock struct {
	Date
	Hour   int
	Minute int
	Second int
	Nanos  int
}

// WallClockOf reads the wall clock of t in t's own location.
func WallClockOf(t time.Time) WallClock {
	return WallClock{Date: DateOf(t), Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(), Nanos: t.Nanosecond()}
}

func (w WallClock) String() string {
	return fmt.Sprintf("%sT%02d:%02d:%02d", w.Date, w.Hour, w.Minute, w.Second)
}

// naive treats the wall clock as if it were UTC.
func (w WallClock) naive() time.Time {
	return time.Date(w.Year, w.Month, w.Day, w.Hour, w.Minute, w.Second, w.Nanos, time.UTC)
}

// Resolution describes how a wall clock mapped onto an instant.
type Resolution int

const (
	Exact Resolution = iota
	// Gap: the wall clock does not exist (clocks jumped forward over it).
	Gap
	// Overlap: the wall clock happened twice (clocks were set back).
	Overlap
)

func (r Resolution) String() string {
	switch r {
	case Gap:
		return "gap"
	case Overlap:
		return "overlap"
	default:
		return "exact"
	}
}

// Load resolves an IANA zone name. The empty name means UTC.
func Load(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, domain.E(domain.KindValidation, "load timezone", fmt.Errorf("unknown timezone %q: %w", name, err))
	}
	return loc, nil
}

func offsetAt(t time.Time, loc *time.Location) time.Duration {
	_, off := t.In(loc).Zone()
	return time.Duration(off) * time.Second
}

// Resolve maps a wall clock to a UTC instant.
//
// Overlapping wall clocks resolve to the earlier instant. Wall clocks inside a
// forward gap resolve to the first instant after the gap.
func Resolve(w WallClock, loc *time.Location) (time.Time, Resolution) {
	if loc == nil {
		loc = time.UTC
	}
	u := w.naive()
	before := offsetAt(u.Add(-36*time.Hour), loc)
	after := offsetAt(u.Add(36*time.Hour), loc)

	var matches []time.Time
	for _, off := range []time.Duration{before, after} {
		c := u.Add(-off)
		if WallClockOf(c.In(loc)) == w {
			if len(matches) == 0 || !matches[0].Equal(c) {
				matches = append(matches, c)
			}
		}
	}
	switch len(matches) {
	case 1:
		return matches[0].UTC(), Exact
	case 2:
		if matches[1].Before(matches[0]) {
			return matches[1].UTC(), Overlap
		}
		return matches[0].UTC(), Overlap
	}

	// Forward gap: the transition lies between the two candidates.
	lo, hi := u.Add(-after), u.Add(-before)
	if hi.Before(lo) {
		lo, hi = hi, lo
	}
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2)
		if offsetAt(mid, loc) == after {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi.Truncate(time.Second).UTC(), Gap
}

// ToUTC converts a wall clock in loc to its storage instant.
func ToUTC(w WallClock, loc *time.Location) time.Time {
	t, _ := Resolve(w, loc)
	return t
}

// ToLocal converts a storage instant to the wall clock shown in loc.
func ToLocal(t time.Time, loc *time.Location) WallClock {
	if loc == nil {
		loc = time.UTC
	}
	return WallClockOf(t.In(loc))
}

// SlotOf buckets t into the week starting at weekStart. The second result is
// false when t's local date falls outside the week.
func SlotOf(t time.Time, loc *time.Location, weekStart Date) (domain.TimeSlot, bool) {
	local := ToLocal(t, loc)
	day := weekStart.DaysUntil(local.Date)
	if day < 0 || day > 6 {
		return domain.TimeSlot{}, false
	}
	return domain.TimeSlot{Day: day, Hour: local.Hour}, true
}

// SlotInstant returns the UTC instant at the top of slot's hour.
func SlotInstant(slot domain.TimeSlot, weekStart Date, loc *time.Location) time.Time {
	return ToUTC(WallClock{Date: weekStart.AddDays(slot.Day), Hour: slot.Hour}, loc)
}

// MoveToSlot moves t into slot, keeping its minutes and seconds within the hour,
// so that moving an event away and back restores the original instant.
func MoveToSlot(t time.Time, slot domain.TimeSlot, weekStart Date, loc *time.Location) time.Time {
	local := ToLocal(t, loc)
	return ToUTC(WallClock{
		Date:   weekStart.AddDays(slot.Day),
		Hour:   slot.Hour,
		Minute: local.Minute,
		Second: local.Second,
		Nanos:  local.Nanos,
	}, loc)
}

// WeekOf returns the first day of the local week containing t.
func WeekOf(t time.Time, loc *time.Location, firstDay time.Weekday) Date {
	d := ToLocal(t, loc).Date
	back := (int(d.Weekday()) - int(firstDay) + 7) % 7
	return d.AddDays(-back)
}

// AlignWeek snaps an arbitrary date back to the configured first weekday.
func AlignWeek(d Date, firstDay time.Weekday) Date {
	back := (int(d.Weekday()) - int(firstDay) + 7) % 7
	return d.AddDays(-back)
}

// WeekBounds returns the half-open UTC range [start, end) covered by the local week.
func WeekBounds(weekStart Date, loc *time.Location) (time.Time, time.Time) {
	start := ToUTC(WallClock{Date: weekStart}, loc)
	end := ToUTC(WallClock{Date: weekStart.AddDays(7)}, loc)
	return start, end
}
