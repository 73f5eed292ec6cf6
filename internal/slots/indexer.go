// Package slots buckets canonical events into the 7x24 grid of a week.
package slots

import (
	"sort"
	"time"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/timezone"
)

// Grid is an immutable week view. Events sharing a slot keep discovery order.
type Grid struct {
	WeekStart timezone.Date
	Location  *time.Location

	cells   map[domain.TimeSlot][]domain.CanonicalEvent
	where   map[domain.EventKey]domain.TimeSlot
	outside []domain.CanonicalEvent
	total   int
}

// Index builds the grid for weekStart in loc. It never mutates events.
func Index(events []domain.CanonicalEvent, loc *time.Location, weekStart timezone.Date) Grid {
	g := Grid{
		WeekStart: weekStart,
		Location:  loc,
		cells:     make(map[domain.TimeSlot][]domain.CanonicalEvent),
		where:     make(map[domain.EventKey]domain.TimeSlot, len(events)),
	}
	for _, ev := range events {
		slot, ok := timezone.SlotOf(ev.ScheduledAt, loc, weekStart)
		if !ok {
			g.outside = append(g.outside, ev)
			continue
		}
		g.cells[slot] = append(g.cells[slot], ev)
		g.where[ev.Key()] = slot
		g.total++
	}
	return g
}

// At returns the events in slot. The slice must not be modified.
func (g Grid) At(slot domain.TimeSlot) []domain.CanonicalEvent { return g.cells[slot] }

// SlotOf returns the slot holding the event with key k.
func (g Grid) SlotOf(k domain.EventKey) (domain.TimeSlot, bool) {
	s, ok := g.where[k]
	return s, ok
}

// Len is the number of events placed in the week.
func (g Grid) Len() int { return g.total }

// Outside returns events whose local date is not in the week.
func (g Grid) Outside() []domain.CanonicalEvent { return g.outside }

// Slots lists occupied slots day-major.
func (g Grid) Slots() []domain.TimeSlot {
	out := make([]domain.TimeSlot, 0, len(g.cells))
	for s := range g.cells {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Day returns the calendar date of a grid column.
func (g Grid) Day(day int) timezone.Date { return g.WeekStart.AddDays(day) }

// Cell is one occupied slot in render order.
type Cell struct {
	Slot   domain.TimeSlot         `json:"slot"`
	Date   string                  `json:"date"`
	Events []domain.CanonicalEvent `json:"events"`
}

// Cells flattens the grid for rendering.
func (g Grid) Cells() []Cell {
	slots := g.Slots()
	out := make([]Cell, 0, len(slots))
	for _, s := range slots {
		out = append(out, Cell{Slot: s, Date: g.Day(s.Day).String(), Events: g.cells[s]})
	}
	return out
}
