package countdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/metrics"
)

// CountSource supplies campaigns and their current post counts.
type CountSource interface {
	Campaigns(ctx context.Context, orgID string) ([]domain.Campaign, error)
	CampaignPostCount(ctx context.Context, orgID, campaignID string) (int, error)
}

type Options struct {
	Tick    time.Duration
	Poll    time.Duration
	Metrics *metrics.Collector
	Logger  *zerolog.Logger
	Now     func() time.Time
	// Idle is how long a Hub keeps a runner nobody reads. Zero means 30m.
	Idle time.Duration
	// OnTick receives the projections after every display tick.
	OnTick func([]Display)
}

func (o *Options) defaults() {
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.Poll <= 0 {
		o.Poll = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.Idle <= 0 {
		o.Idle = 30 * time.Minute
	}
}

// Runner keeps the countdowns of one organization's campaigns current.
type Runner struct {
	orgID string
	src   CountSource
	store StateStore
	opts  Options
	log   zerolog.Logger

	mu       sync.Mutex
	states   map[string]domain.CampaignScheduleState
	counters map[string]*Counter
}

func NewRunner(orgID string, src CountSource, store StateStore, opts Options) *Runner {
	opts.defaults()
	log := logging.WithOrg(logging.Component("countdown"), orgID)
	if opts.Logger != nil {
		log = *opts.Logger
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Runner{
		orgID:    orgID,
		src:      src,
		store:    store,
		opts:     opts,
		log:      log,
		states:   make(map[string]domain.CampaignScheduleState),
		counters: make(map[string]*Counter),
	}
}

// Sync reloads the campaign list. New campaigns are seeded from the stored
// state when present; campaigns that disappeared are forgotten.
func (r *Runner) Sync(ctx context.Context) error {
	campaigns, err := r.src.Campaigns(ctx, r.orgID)
	if err != nil {
		return domain.E(domain.KindFetch, "campaigns", err)
	}

	seen := make(map[string]bool, len(campaigns))
	for _, c := range campaigns {
		seen[c.ID] = true
		fresh := domain.StateFromCampaign(c)

		r.mu.Lock()
		st, known := r.states[c.ID]
		r.mu.Unlock()
		if !known {
			stored, ok, err := r.store.Get(ctx, r.orgID, c.ID)
			if err != nil {
				r.log.Warn().Err(err).Str("campaign", c.ID).Msg("load countdown state failed")
			}
			st = fresh
			if ok {
				st = stored
			}
		}
		st.Frequency = fresh.Frequency
		st.Paused = fresh.Paused
		if fresh.LastGeneration != nil && (st.LastGeneration == nil || fresh.LastGeneration.After(*st.LastGeneration)) {
			st.LastGeneration = fresh.LastGeneration
		}
		r.put(ctx, st)
	}

	r.mu.Lock()
	var gone []string
	for id := range r.states {
		if !seen[id] {
			gone = append(gone, id)
			delete(r.states, id)
			delete(r.counters, id)
		}
	}
	r.mu.Unlock()
	for _, id := range gone {
		_ = r.store.Delete(ctx, r.orgID, id)
	}
	return nil
}

// put caches and persists st, creating its counter on first sight.
func (r *Runner) put(ctx context.Context, st domain.CampaignScheduleState) {
	r.mu.Lock()
	r.states[st.CampaignID] = st
	if _, ok := r.counters[st.CampaignID]; !ok {
		id := st.CampaignID
		c := NewCounter(func(prev, cur int) { r.generated(id, prev, cur) })
		if st.Baselined {
			c.Seed(st.ObservedPostCount)
		}
		r.counters[id] = c
	}
	r.mu.Unlock()

	if err := r.store.Put(ctx, r.orgID, st); err != nil {
		r.log.Warn().Err(err).Str("campaign", st.CampaignID).Msg("persist countdown state failed")
	}
}

func (r *Runner) generated(campaignID string, prev, cur int) {
	now := r.opts.Now()
	r.mu.Lock()
	st := r.states[campaignID]
	st.LastGeneration = &now
	r.states[campaignID] = st
	r.mu.Unlock()

	r.opts.Metrics.GenerationDetected()
	r.log.Info().
		Str("campaign", campaignID).
		Int("previous", prev).
		Int("current", cur).
		Msg("generation detected, countdown restarted")
}

// Poll re-reads the post count of every active campaign.
func (r *Runner) Poll(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.states))
	for id, st := range r.states {
		if !st.Paused {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	sort.Strings(ids)

	var firstErr error
	for _, id := range ids {
		n, err := r.src.CampaignPostCount(ctx, r.orgID, id)
		if err != nil {
			r.log.Warn().Err(err).Str("campaign", id).Msg("post count poll failed")
			if firstErr == nil {
				firstErr = domain.E(domain.KindFetch, "post count", fmt.Errorf("campaign %s: %w", id, err))
			}
			continue
		}

		r.mu.Lock()
		c, ok := r.counters[id]
		r.mu.Unlock()
		if !ok {
			continue
		}
		c.Observe(n)

		r.mu.Lock()
		st, ok := r.states[id]
		r.mu.Unlock()
		if !ok {
			continue
		}
		st.ObservedPostCount = n
		st.Baselined = true
		r.put(ctx, st)
	}
	return firstErr
}

// State returns the cached state of a campaign.
func (r *Runner) State(campaignID string) (domain.CampaignScheduleState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[campaignID]
	return st, ok
}

// Display projects one campaign at the current time.
func (r *Runner) Display(campaignID string) (Display, error) {
	st, ok := r.State(campaignID)
	if !ok {
		return Display{}, domain.E(domain.KindNotFound, "countdown", fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound))
	}
	return Project(st, r.opts.Now())
}

// Displays projects every campaign, ordered by id. Campaigns with an unknown
// frequency are skipped.
func (r *Runner) Displays() []Display {
	r.mu.Lock()
	states := make([]domain.CampaignScheduleState, 0, len(r.states))
	for _, st := range r.states {
		states = append(states, st)
	}
	r.mu.Unlock()
	sort.Slice(states, func(i, j int) bool { return states[i].CampaignID < states[j].CampaignID })

	now := r.opts.Now()
	out := make([]Display, 0, len(states))
	for _, st := range states {
		d, err := Project(st, now)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Run syncs once, then ticks the display and polls counts until ctx ends.
// The campaign list is re-synced on every poll.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Sync(ctx); err != nil {
		r.log.Warn().Err(err).Msg("initial campaign sync failed")
	}
	if err := r.Poll(ctx); err != nil {
		r.log.Debug().Err(err).Msg("initial poll incomplete")
	}

	tick := time.NewTicker(r.opts.Tick)
	defer tick.Stop()
	poll := time.NewTicker(r.opts.Poll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if r.opts.OnTick != nil {
				r.opts.OnTick(r.Displays())
			}
		case <-poll.C:
			if err := r.Sync(ctx); err != nil {
				r.log.Warn().Err(err).Msg("campaign sync failed")
				continue
			}
			_ = r.Poll(ctx)
		}
	}
}

// Hub starts one Runner per organization on first use, stops runners that
// have not been read for Options.Idle and stops them all when its context
// ends.
type Hub struct {
	ctx   context.Context
	src   CountSource
	store StateStore
	opts  Options

	mu      sync.Mutex
	runners map[string]*hubEntry
	wg      sync.WaitGroup
}

type hubEntry struct {
	runner   *Runner
	cancel   context.CancelFunc
	lastRead time.Time
}

func NewHub(ctx context.Context, src CountSource, store StateStore, opts Options) *Hub {
	opts.defaults()
	h := &Hub{ctx: ctx, src: src, store: store, opts: opts, runners: make(map[string]*hubEntry)}
	h.wg.Add(1)
	go h.sweep()
	return h
}

// Runner returns the organization's runner. A new runner is synced and
// polled once before it is returned so the first read is populated.
func (h *Hub) Runner(ctx context.Context, orgID string) *Runner {
	now := h.opts.Now()
	h.mu.Lock()
	e, ok := h.runners[orgID]
	if ok {
		e.lastRead = now
		h.mu.Unlock()
		return e.runner
	}
	rctx, cancel := context.WithCancel(h.ctx)
	e = &hubEntry{runner: NewRunner(orgID, h.src, h.store, h.opts), cancel: cancel, lastRead: now}
	h.runners[orgID] = e
	h.opts.Metrics.CountdownRunners(len(h.runners))
	h.mu.Unlock()

	r := e.runner
	if err := r.Sync(ctx); err != nil {
		r.log.Warn().Err(err).Msg("campaign sync failed")
	}
	_ = r.Poll(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_ = r.Run(rctx)
	}()
	return r
}

// Len reports how many runners are live.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runners)
}

// Evict stops every runner not read since before now minus Options.Idle
// and returns how many were stopped.
func (h *Hub) Evict() int {
	cutoff := h.opts.Now().Add(-h.opts.Idle)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for org, e := range h.runners {
		if e.lastRead.Before(cutoff) {
			e.cancel()
			delete(h.runners, org)
			n++
		}
	}
	h.opts.Metrics.CountdownRunners(len(h.runners))
	return n
}

func (h *Hub) sweep() {
	defer h.wg.Done()
	t := time.NewTicker(h.opts.Idle / 2)
	defer t.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-t.C:
			if n := h.Evict(); n > 0 {
				log := logging.Component("countdown")
				log.Debug().Int("evicted", n).Msg("idle countdown runners stopped")
			}
		}
	}
}

// Wait blocks until every runner has stopped.
func (h *Hub) Wait() { h.wg.Wait() }
