// Package reschedule implements drag-to-reschedule over a week of events:
// the drag gesture itself, the optimistic local move and the asynchronous
// patch that either confirms or rolls it back.
package reschedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/idempotency"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/lifecycle"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/metrics"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/slots"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/timezone"
)

// Patcher persists a new scheduled instant for an event.
type Patcher interface {
	Reschedule(ctx context.Context, orgID string, key domain.EventKey, at time.Time, idemKey string) error
}

// Confirmer is told about every confirmed move.
type Confirmer interface {
	Rescheduled(ev domain.CanonicalEvent, prev time.Time)
}

type Outcome string

const (
	OutcomeDroppedValid   Outcome = "dropped_valid"
	OutcomeDroppedInvalid Outcome = "dropped_invalid"
	OutcomeCancelled      Outcome = "cancelled"
)

type Resolution string

const (
	ResolutionConfirmed  Resolution = "confirmed"
	ResolutionRolledBack Resolution = "rolled_back"
)

// RescheduleError describes a move the backend refused.
type RescheduleError struct {
	Key  domain.EventKey
	From time.Time
	To   time.Time
	Err  error
}

func (e *RescheduleError) Error() string {
	return fmt.Sprintf("move %s from %s to %s: %v", e.Key, e.From.Format(time.RFC3339), e.To.Format(time.RFC3339), e.Err)
}

func (e *RescheduleError) Unwrap() error { return e.Err }

// Pending tracks one in-flight patch. A rollback restores From, or the last
// refreshed instant that differed from both From and To.
type Pending struct {
	Key  domain.EventKey
	From time.Time
	To   time.Time

	restore    time.Time
	done       chan struct{}
	resolution Resolution
	err        error
}

// Done is closed once the patch is resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the patch resolves or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Resolution, error) {
	select {
	case <-p.done:
		return p.resolution, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type DropResult struct {
	Outcome Outcome
	Event   domain.CanonicalEvent
	Pending *Pending
}

// Controller owns the local event store of one calendar view and every drag
// performed on it. At most one drag session exists at a time.
type Controller struct {
	orgID     string
	patcher   Patcher
	confirmer Confirmer
	metrics   *metrics.Collector
	log       zerolog.Logger
	newID     func() string
	timeout   time.Duration

	mu       sync.Mutex
	store    Store
	week     timezone.Date
	loc      *time.Location
	grid     slots.Grid
	drag     *domain.DragSession
	pending  map[domain.EventKey]*Pending
	inflight sync.WaitGroup
}

type Option func(*Controller)

func WithConfirmer(c Confirmer) Option { return func(r *Controller) { r.confirmer = c } }

func WithMetrics(m *metrics.Collector) Option { return func(r *Controller) { r.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(r *Controller) { r.log = l } }

// WithPatchTimeout bounds each background patch. Zero means no bound.
func WithPatchTimeout(d time.Duration) Option { return func(r *Controller) { r.timeout = d } }

func WithIDGenerator(f func() string) Option { return func(r *Controller) { r.newID = f } }

func NewController(orgID string, patcher Patcher, opts ...Option) *Controller {
	c := &Controller{
		orgID:   orgID,
		patcher: patcher,
		log:     logging.WithOrg(logging.Component("reschedule"), orgID),
		newID:   uuid.NewString,
		pending: make(map[domain.EventKey]*Pending),
		loc:     time.UTC,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load replaces the store with a fresh fetch for week. An event with a patch
// still in flight keeps its optimistic instant only while the fetch shows the
// pre-move instant; any other fetched state wins.
func (c *Controller) Load(events []domain.CanonicalEvent, week timezone.Date, loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	store := NewStore(events)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, p := range c.pending {
		ev, ok := store.Get(k)
		if !ok || lifecycle.CanReschedule(ev.Status) != nil {
			continue
		}
		switch {
		case ev.ScheduledAt.Equal(p.From):
			p.restore = p.From
			store = store.Put(ev.WithScheduledAt(p.To))
		case !ev.ScheduledAt.Equal(p.To):
			p.restore = ev.ScheduledAt
		}
	}
	c.week, c.loc = week, loc
	c.setStore(store)
	if c.drag != nil {
		if _, ok := c.grid.SlotOf(c.drag.Key); !ok {
			c.log.Debug().Str("event", c.drag.Key.String()).Msg("drag target left the view, session dropped")
			c.drag = nil
		}
	}
}

// setStore swaps the store and re-indexes. Callers hold mu.
func (c *Controller) setStore(s Store) {
	c.store = s
	c.grid = slots.Index(s.events, c.loc, c.week)
}

// Loaded reports whether a week has been loaded.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.week.IsZero()
}

func (c *Controller) Grid() slots.Grid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grid
}

func (c *Controller) Snapshot() Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

func (c *Controller) Event(k domain.EventKey) (domain.CanonicalEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(k)
}

// Put stores ev, replacing any event with the same key.
func (c *Controller) Put(ev domain.CanonicalEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStore(c.store.Put(ev))
}

// InFlight reports whether k has an unresolved patch.
func (c *Controller) InFlight(k domain.EventKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[k]
	return ok
}

// Drag returns the active session, if any.
func (c *Controller) Drag() (domain.DragSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drag == nil {
		return domain.DragSession{}, false
	}
	return *c.drag, true
}

// Begin starts a drag on the event with key k.
func (c *Controller) Begin(k domain.EventKey) (domain.DragSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.week.IsZero() {
		return domain.DragSession{}, domain.E(domain.KindValidation, "drag", domain.ErrNoWeek)
	}
	if c.drag != nil {
		return domain.DragSession{}, domain.E(domain.KindConflict, "drag", domain.ErrDragActive)
	}
	ev, ok := c.store.Get(k)
	if !ok {
		return domain.DragSession{}, domain.E(domain.KindNotFound, "drag", fmt.Errorf("%s: %w", k, domain.ErrNotFound))
	}
	if err := lifecycle.CanReschedule(ev.Status); err != nil {
		c.metrics.Rescheduled("rejected")
		return domain.DragSession{}, err
	}
	if _, busy := c.pending[k]; busy {
		return domain.DragSession{}, domain.E(domain.KindConflict, "drag", domain.ErrPatchInFlight)
	}
	origin, ok := c.grid.SlotOf(k)
	if !ok {
		return domain.DragSession{}, domain.E(domain.KindValidation, "drag", domain.ErrOutsideWeek)
	}

	c.drag = &domain.DragSession{ID: c.newID(), Key: k, Origin: origin, Hover: origin}
	c.log.Debug().Str("session", c.drag.ID).Str("event", k.String()).Msg("drag started")
	return *c.drag, nil
}

// Hover moves the drop target of the active session.
func (c *Controller) Hover(slot domain.TimeSlot) (domain.DragSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drag == nil {
		return domain.DragSession{}, domain.E(domain.KindConflict, "hover", domain.ErrNoDrag)
	}
	if !slot.Valid() {
		return *c.drag, domain.E(domain.KindValidation, "hover", domain.ErrOutsideWeek)
	}
	c.drag.Hover = slot
	return *c.drag, nil
}

// Cancel abandons the active session without touching the store.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drag == nil {
		return domain.E(domain.KindConflict, "cancel drag", domain.ErrNoDrag)
	}
	c.drag = nil
	c.metrics.Rescheduled("cancelled")
	return nil
}

// Drop releases the active session over slot. A valid drop moves the event
// locally right away and patches the backend in the background; the returned
// Pending resolves once the backend answers.
func (c *Controller) Drop(ctx context.Context, slot domain.TimeSlot) (DropResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drag == nil {
		return DropResult{}, domain.E(domain.KindConflict, "drop", domain.ErrNoDrag)
	}
	s := *c.drag
	c.drag = nil

	ev, ok := c.store.Get(s.Key)
	if !ok || !slot.Valid() {
		c.metrics.Rescheduled("cancelled")
		return DropResult{Outcome: OutcomeCancelled, Event: ev}, nil
	}
	if slot == s.Origin {
		c.metrics.Rescheduled("invalid")
		return DropResult{Outcome: OutcomeDroppedInvalid, Event: ev}, nil
	}
	if err := lifecycle.CanReschedule(ev.Status); err != nil {
		c.metrics.Rescheduled("rejected")
		return DropResult{Outcome: OutcomeDroppedInvalid, Event: ev}, err
	}

	from := ev.ScheduledAt
	to := timezone.MoveToSlot(from, slot, c.week, c.loc)
	moved := ev.WithScheduledAt(to)
	c.setStore(c.store.Put(moved))

	p := &Pending{Key: s.Key, From: from, To: to, restore: from, done: make(chan struct{})}
	c.pending[s.Key] = p
	c.inflight.Add(1)

	idem := idempotency.DeriveKey(idempotency.OpReschedule, c.orgID, s.Key, to)
	go c.patch(context.WithoutCancel(ctx), p, idem)

	c.log.Info().
		Str("session", s.ID).
		Str("event", s.Key.String()).
		Time("from", from).
		Time("to", to).
		Msg("event moved, patch pending")
	return DropResult{Outcome: OutcomeDroppedValid, Event: moved, Pending: p}, nil
}

func (c *Controller) patch(ctx context.Context, p *Pending, idem string) {
	defer c.inflight.Done()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	err := c.patcher.Reschedule(ctx, c.orgID, p.Key, p.To, idem)
	c.resolve(p, err)
}

// resolve applies the backend's answer. The store is only touched while the
// event is still movable and shows the optimistic instant, so whatever a
// refresh brought in the meantime stays.
func (c *Controller) resolve(p *Pending, err error) {
	c.mu.Lock()
	cur, ok := c.store.Get(p.Key)
	movable := ok && lifecycle.CanReschedule(cur.Status) == nil
	if err == nil {
		p.resolution = ResolutionConfirmed
		if movable && c.confirmer != nil {
			c.confirmer.Rescheduled(cur.WithScheduledAt(p.To), p.From)
		}
		c.metrics.Rescheduled("confirmed")
		c.log.Info().Str("event", p.Key.String()).Time("at", p.To).Msg("reschedule confirmed")
	} else {
		p.resolution = ResolutionRolledBack
		p.err = domain.E(domain.KindPatch, "reschedule", &RescheduleError{Key: p.Key, From: p.From, To: p.To, Err: err})
		if movable && cur.ScheduledAt.Equal(p.To) {
			c.setStore(c.store.Put(cur.WithScheduledAt(p.restore)))
		}
		c.metrics.Rescheduled("rolled_back")
		c.log.Warn().Err(err).Str("event", p.Key.String()).Time("restored", p.restore).Msg("reschedule rolled back")
	}
	if c.pending[p.Key] == p {
		delete(c.pending, p.Key)
	}
	c.mu.Unlock()
	close(p.done)
}

// Wait blocks until every in-flight patch has resolved or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
