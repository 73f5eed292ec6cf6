// Package calendar holds one organization's week view and routes every user
// action on it to the component that owns it.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/aggregator"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/lifecycle"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/reschedule"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/slots"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/timezone"
)

// ErrSuperseded is returned for a week fetch that finished after a newer one
// was started. Its result is discarded.
var ErrSuperseded = errors.New("week fetch superseded by a newer request")

// Settings stores the user's timezone.
type Settings interface {
	GetTimezone(ctx context.Context, orgID string) (string, error)
	SetTimezone(ctx context.Context, orgID, name string) error
}

// View is a snapshot of the session for rendering.
type View struct {
	Week      timezone.Date
	Timezone  string
	Grid      slots.Grid
	Partial   []aggregator.SourceError
	Campaigns []domain.Campaign
	Drag      *domain.DragSession
	FetchedAt time.Time
}

type Session struct {
	orgID     string
	agg       *aggregator.Aggregator
	machine   *lifecycle.Machine
	ctrl      *reschedule.Controller
	settings  Settings
	firstDay  time.Weekday
	skew      time.Duration
	defaultTZ string
	now       func() time.Time
	log       zerolog.Logger

	mu        sync.Mutex
	gen       uint64
	tzLoaded  bool
	tzName    string
	loc       *time.Location
	week      timezone.Date
	partial   []aggregator.SourceError
	campaigns []domain.Campaign
	fetchedAt time.Time
}

// timezoneState returns the active location, reading the stored setting on
// first use. An unreadable or invalid setting falls back to the default.
func (s *Session) timezoneState(ctx context.Context) (*time.Location, string) {
	s.mu.Lock()
	if s.tzLoaded {
		loc, name := s.loc, s.tzName
		s.mu.Unlock()
		return loc, name
	}
	s.mu.Unlock()

	name := s.defaultTZ
	if s.settings != nil {
		stored, err := s.settings.GetTimezone(ctx, s.orgID)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("timezone setting unavailable, using default")
		case stored != "":
			name = stored
		}
	}
	loc, err := timezone.Load(name)
	if err != nil {
		s.log.Warn().Err(err).Str("timezone", name).Msg("stored timezone invalid, using default")
		name = s.defaultTZ
		loc, _ = timezone.Load(name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tzLoaded {
		s.loc, s.tzName, s.tzLoaded = loc, name, true
	}
	return s.loc, s.tzName
}

// Timezone returns the IANA name slots are computed in.
func (s *Session) Timezone(ctx context.Context) string {
	_, name := s.timezoneState(ctx)
	return name
}

// SetTimezone validates and stores a new timezone and re-buckets the loaded
// events. The week range itself is not refetched.
func (s *Session) SetTimezone(ctx context.Context, name string) error {
	loc, err := timezone.Load(name)
	if err != nil {
		return err
	}
	if s.settings != nil {
		if err := s.settings.SetTimezone(ctx, s.orgID, name); err != nil {
			return domain.E(domain.KindPatch, "set timezone", err)
		}
	}

	s.mu.Lock()
	s.loc, s.tzName, s.tzLoaded = loc, name, true
	week := s.week
	s.mu.Unlock()

	if !week.IsZero() {
		s.ctrl.Load(s.ctrl.Snapshot().Events(), week, loc)
	}
	s.log.Info().Str("timezone", name).Msg("timezone updated")
	return nil
}

// CurrentWeek returns the first day of the week containing now.
func (s *Session) CurrentWeek(ctx context.Context) timezone.Date {
	loc, _ := s.timezoneState(ctx)
	return timezone.WeekOf(s.now(), loc, s.firstDay)
}

// Refresh fetches week and replaces the local store with the result. A fetch
// overtaken by a later Refresh returns ErrSuperseded and changes nothing.
func (s *Session) Refresh(ctx context.Context, week timezone.Date) (View, error) {
	loc, _ := s.timezoneState(ctx)
	week = timezone.AlignWeek(week, s.firstDay)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	start, end := timezone.WeekBounds(week, loc)
	res, err := s.agg.FetchWeek(ctx, s.orgID, start, end)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.log.Debug().Str("week", week.String()).Uint64("generation", gen).Msg("stale week fetch discarded")
		return View{}, domain.E(domain.KindConflict, "refresh", ErrSuperseded)
	}
	if err != nil {
		s.mu.Unlock()
		if domain.KindOf(err) == "" {
			err = domain.E(domain.KindFetch, "refresh", err)
		}
		return View{}, err
	}
	s.week = week
	s.partial = res.Partial
	s.campaigns = res.Campaigns
	s.fetchedAt = s.now()
	s.ctrl.Load(res.Events, week, loc)
	s.mu.Unlock()

	return s.View(ctx), nil
}

// View returns the current snapshot without fetching.
func (s *Session) View(ctx context.Context) View {
	_, name := s.timezoneState(ctx)
	s.mu.Lock()
	v := View{
		Week:      s.week,
		Timezone:  name,
		Partial:   s.partial,
		Campaigns: s.campaigns,
		FetchedAt: s.fetchedAt,
	}
	s.mu.Unlock()

	v.Grid = s.ctrl.Grid()
	if d, ok := s.ctrl.Drag(); ok {
		v.Drag = &d
	}
	return v
}

func (s *Session) event(k domain.EventKey) (domain.CanonicalEvent, error) {
	ev, ok := s.ctrl.Event(k)
	if !ok {
		return ev, domain.E(domain.KindNotFound, "lookup", fmt.Errorf("%s: %w", k, domain.ErrNotFound))
	}
	return ev, nil
}

// Event returns the locally known event with key k.
func (s *Session) Event(k domain.EventKey) (domain.CanonicalEvent, error) { return s.event(k) }

// Schedule turns the draft behind k into a scheduled post at the given
// local wall-clock time. Only the date and clock fields of local are used.
func (s *Session) Schedule(ctx context.Context, k domain.EventKey, local time.Time) (domain.CanonicalEvent, error) {
	loc, _ := s.timezoneState(ctx)
	at, res := timezone.Resolve(timezone.WallClockOf(local), loc)
	if res != timezone.Exact {
		s.log.Debug().Str("resolution", res.String()).Time("at", at).Msg("local time adjusted across a DST change")
	}
	if errs := domain.ValidateNotPast(at, s.now(), s.skew); len(errs) > 0 {
		return domain.CanonicalEvent{}, domain.E(domain.KindValidation, "schedule", errs[0])
	}

	ev, ok := s.ctrl.Event(k)
	if !ok {
		ev = domain.CanonicalEvent{ID: k.ID, DraftID: k.ID, Status: domain.StatusDraft}
	}
	scheduled, err := s.machine.Schedule(ctx, s.orgID, ev, at)
	if err != nil {
		return ev, err
	}
	s.ctrl.Put(scheduled)
	return scheduled, nil
}

// PublishNow publishes k immediately. The resulting state, Failed included,
// replaces the local event.
func (s *Session) PublishNow(ctx context.Context, k domain.EventKey) (domain.CanonicalEvent, error) {
	ev, err := s.event(k)
	if err != nil {
		return ev, err
	}
	if s.ctrl.InFlight(k) {
		return ev, domain.E(domain.KindConflict, "publish now", domain.ErrPatchInFlight)
	}
	out, err := s.machine.PublishNow(ctx, s.orgID, ev)
	if out.Status != ev.Status {
		s.ctrl.Put(out)
	}
	return out, err
}

// CompletePublish applies a publish result reported by the external
// publisher for a queued event.
func (s *Session) CompletePublish(k domain.EventKey, platformURL, failure string) (domain.CanonicalEvent, error) {
	ev, err := s.event(k)
	if err != nil {
		return ev, err
	}
	var publishErr error
	if failure != "" {
		publishErr = errors.New(failure)
	}
	out, err := s.machine.Complete(ev, platformURL, publishErr)
	if out.Status != ev.Status {
		s.ctrl.Put(out)
	}
	return out, err
}

func (s *Session) Cancel(ctx context.Context, k domain.EventKey) (domain.CanonicalEvent, error) {
	ev, err := s.event(k)
	if err != nil {
		return ev, err
	}
	if s.ctrl.InFlight(k) {
		return ev, domain.E(domain.KindConflict, "cancel", domain.ErrPatchInFlight)
	}
	out, err := s.machine.Cancel(ctx, s.orgID, ev)
	if err != nil {
		return out, err
	}
	s.ctrl.Put(out)
	return out, nil
}

func (s *Session) BeginDrag(k domain.EventKey) (domain.DragSession, error) { return s.ctrl.Begin(k) }

func (s *Session) Hover(slot domain.TimeSlot) (domain.DragSession, error) { return s.ctrl.Hover(slot) }

func (s *Session) Drop(ctx context.Context, slot domain.TimeSlot) (reschedule.DropResult, error) {
	return s.ctrl.Drop(ctx, slot)
}

func (s *Session) CancelDrag() error { return s.ctrl.Cancel() }

// Wait blocks until in-flight reschedule patches resolve.
func (s *Session) Wait(ctx context.Context) error { return s.ctrl.Wait(ctx) }
