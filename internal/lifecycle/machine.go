// Package lifecycle governs the publish states a post moves through and the
// backend calls each transition triggers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/idempotency"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/metrics"
)

var edges = map[domain.Status][]domain.Status{
	domain.StatusDraft:     {domain.StatusScheduled},
	domain.StatusScheduled: {domain.StatusQueued, domain.StatusCancelled},
	domain.StatusQueued:    {domain.StatusPosted, domain.StatusFailed},
}

// Check validates a single status change without side effects.
func Check(from, to domain.Status) error {
	if from.Terminal() {
		return domain.E(domain.KindInvalidTransition, "transition",
			fmt.Errorf("%s -> %s: %w", from, to, domain.ErrTerminalState))
	}
	for _, s := range edges[from] {
		if s == to {
			return nil
		}
	}
	return domain.E(domain.KindInvalidTransition, "transition",
		fmt.Errorf("%s -> %s: %w", from, to, domain.ErrIllegalTransition))
}

// CanReschedule reports whether an event's time may be changed.
func CanReschedule(s domain.Status) error {
	switch s {
	case domain.StatusPosted:
		return domain.E(domain.KindInvalidTransition, "reschedule", domain.ErrPostedImmutable)
	case domain.StatusCancelled, domain.StatusFailed:
		return domain.E(domain.KindInvalidTransition, "reschedule",
			fmt.Errorf("%s: %w", s, domain.ErrTerminalState))
	}
	return nil
}

// Backend performs the side effects of transitions.
type Backend interface {
	CreateSchedule(ctx context.Context, orgID, draftID string, at time.Time, idemKey string) (domain.ScheduledRecord, error)
	PublishNow(ctx context.Context, orgID string, key domain.EventKey, idemKey string) (platformURL string, err error)
	Cancel(ctx context.Context, orgID string, key domain.EventKey) error
}

// Recorder receives every applied transition.
type Recorder interface {
	Record(t domain.Transition)
}

type nopRecorder struct{}

func (nopRecorder) Record(domain.Transition) {}

type Machine struct {
	backend  Backend
	recorder Recorder
	metrics  *metrics.Collector
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Machine)

func WithRecorder(r Recorder) Option {
	return func(m *Machine) {
		if r != nil {
			m.recorder = r
		}
	}
}

func WithMetrics(c *metrics.Collector) Option { return func(m *Machine) { m.metrics = c } }

func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(m *Machine) { m.log = l } }

func New(backend Backend, opts ...Option) *Machine {
	m := &Machine{
		backend:  backend,
		recorder: nopRecorder{},
		log:      logging.Component("lifecycle"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// apply validates and performs a local status change, recording it.
func (m *Machine) apply(ev domain.CanonicalEvent, to domain.Status, reason string) (domain.CanonicalEvent, error) {
	if err := Check(ev.Status, to); err != nil {
		m.log.Debug().Err(err).Str("event", ev.Key().String()).Msg("transition rejected")
		return ev, err
	}
	from := ev.Status
	ev.Status = to
	m.record(ev, from, to, reason, nil, nil)
	return ev, nil
}

func (m *Machine) record(ev domain.CanonicalEvent, from, to domain.Status, reason string, prev, next *time.Time) {
	m.metrics.Transitioned(string(from), string(to))
	m.recorder.Record(domain.Transition{
		Key:        ev.Key(),
		From:       from,
		To:         to,
		At:         m.now(),
		Reason:     reason,
		PrevTime:   prev,
		NextTime:   next,
		CampaignID: ev.CampaignID,
	})
}

// Schedule moves a draft to Scheduled by creating a schedule record at at.
func (m *Machine) Schedule(ctx context.Context, orgID string, ev domain.CanonicalEvent, at time.Time) (domain.CanonicalEvent, error) {
	if err := Check(ev.Status, domain.StatusScheduled); err != nil {
		return ev, err
	}
	draftID := ev.DraftID
	if draftID == "" {
		draftID = ev.ID
	}
	at = at.UTC()
	key := idempotency.DeriveKey(idempotency.OpSchedule, orgID, ev.Key(), at)
	rec, err := m.backend.CreateSchedule(ctx, orgID, draftID, at, key)
	if err != nil {
		return ev, domain.E(domain.KindPatch, "schedule", err)
	}

	from := ev.Status
	ev.Source = domain.SourceScheduled
	if rec.ID != "" {
		ev.ID = rec.ID
	}
	ev.DraftID = draftID
	ev.ScheduledAt = at
	ev.Status = domain.StatusScheduled
	m.record(ev, from, ev.Status, "user scheduled", nil, &at)
	m.log.Info().Str("event", ev.Key().String()).Time("at", at).Msg("draft scheduled")
	return ev, nil
}

// Promote marks a scheduled event as picked up by the external scheduler.
func (m *Machine) Promote(ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	return m.apply(ev, domain.StatusQueued, "scheduler promoted")
}

// PublishNow queues ev and publishes it immediately. A failed publish leaves
// the event Failed; it is not retried. When the backend only accepts the
// publish for later delivery the event stays Queued until Complete.
func (m *Machine) PublishNow(ctx context.Context, orgID string, ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	if ev.Status != domain.StatusQueued {
		var err error
		if ev, err = m.apply(ev, domain.StatusQueued, "publish now"); err != nil {
			return ev, err
		}
	}
	key := idempotency.DeriveKey(idempotency.OpPublishNow, orgID, ev.Key(), ev.ScheduledAt)
	url, err := m.backend.PublishNow(ctx, orgID, ev.Key(), key)
	if errors.Is(err, domain.ErrPublishAccepted) {
		m.log.Info().Str("event", ev.Key().String()).Msg("publish accepted, awaiting completion")
		return ev, nil
	}
	return m.Complete(ev, url, err)
}

// Complete applies the outcome of a publish attempt to a queued event.
func (m *Machine) Complete(ev domain.CanonicalEvent, platformURL string, publishErr error) (domain.CanonicalEvent, error) {
	if publishErr != nil {
		failed, err := m.apply(ev, domain.StatusFailed, "publish failed")
		if err != nil {
			return ev, err
		}
		failed.Error = publishErr.Error()
		m.log.Warn().Err(publishErr).Str("event", ev.Key().String()).Msg("publish failed")
		return failed, domain.E(domain.KindPublish, "publish", publishErr)
	}
	posted, err := m.apply(ev, domain.StatusPosted, "publish succeeded")
	if err != nil {
		return ev, err
	}
	posted.PlatformURL = platformURL
	posted.Error = ""
	m.log.Info().Str("event", ev.Key().String()).Str("url", platformURL).Msg("post published")
	return posted, nil
}

// Cancel deletes a scheduled event from its collection.
func (m *Machine) Cancel(ctx context.Context, orgID string, ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	if err := Check(ev.Status, domain.StatusCancelled); err != nil {
		return ev, err
	}
	if err := m.backend.Cancel(ctx, orgID, ev.Key()); err != nil {
		return ev, domain.E(domain.KindPatch, "cancel", err)
	}
	return m.apply(ev, domain.StatusCancelled, "user cancelled")
}

// Rescheduled records a confirmed time change. Status is unchanged.
func (m *Machine) Rescheduled(ev domain.CanonicalEvent, prev time.Time) {
	next := ev.ScheduledAt
	m.recorder.Record(domain.Transition{
		Key:        ev.Key(),
		From:       ev.Status,
		To:         ev.Status,
		At:         m.now(),
		Reason:     "rescheduled",
		PrevTime:   &prev,
		NextTime:   &next,
		CampaignID: ev.CampaignID,
	})
}
