package transporthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/calendar"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/config"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/countdown"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/metrics"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/reschedule"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/timezone"
)

// ReadyCheck reports whether one dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// TotalsQuerier reads aggregate counts from the transition journal.
type TotalsQuerier interface {
	TransitionTotals(ctx context.Context, since int64) (map[string]int64, error)
}

type ServerDeps struct {
	Cfg        config.ServerConfig
	Calendars  *calendar.Manager
	Countdowns *countdown.Hub
	Metrics    *metrics.Collector
	// Ready checks run in name order on /readyz.
	Ready  map[string]ReadyCheck
	Totals TotalsQuerier
	Now    func() time.Time
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeBody decodes a JSON body and writes a problem when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSONStrict(r, v); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return false
	}
	return true
}

// session resolves {org} to its calendar session.
func orgParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	org := strings.TrimSpace(chi.URLParam(r, "org"))
	if org == "" || len(org) > domain.MaxIDLen {
		fieldProblem(w, []domain.FieldError{{Field: "org", Msg: "required, max length 128"}})
		return "", false
	}
	return org, true
}

func (d *ServerDeps) session(w http.ResponseWriter, r *http.Request) (*calendar.Session, bool) {
	org, ok := orgParam(w, r)
	if !ok {
		return nil, false
	}
	return d.Calendars.Session(org), true
}

func eventKeyParam(w http.ResponseWriter, r *http.Request) (domain.EventKey, bool) {
	k, errs := domain.ValidateEventKey(chi.URLParam(r, "key"))
	if len(errs) > 0 {
		fieldProblem(w, errs)
		return k, false
	}
	return k, true
}

// --- DTOs ---

type eventResp struct {
	Key string `json:"key"`
	domain.CanonicalEvent
}

func toEvent(ev domain.CanonicalEvent) eventResp {
	return eventResp{Key: ev.Key().String(), CanonicalEvent: ev}
}

type cellResp struct {
	Slot   domain.TimeSlot `json:"slot"`
	Date   string          `json:"date"`
	Events []eventResp     `json:"events"`
}

type dragResp struct {
	ID       string          `json:"id"`
	EventKey string          `json:"event_key"`
	Origin   domain.TimeSlot `json:"origin"`
	Hover    domain.TimeSlot `json:"hover"`
}

func toDrag(s domain.DragSession) dragResp {
	return dragResp{ID: s.ID, EventKey: s.Key.String(), Origin: s.Origin, Hover: s.Hover}
}

type partialResp struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

type calendarResp struct {
	Week      string            `json:"week"`
	Timezone  string            `json:"timezone"`
	Days      []string          `json:"days"`
	Cells     []cellResp        `json:"cells"`
	Total     int               `json:"total"`
	Degraded  bool              `json:"degraded"`
	Partial   []partialResp     `json:"partial,omitempty"`
	Campaigns []domain.Campaign `json:"campaigns"`
	Drag      *dragResp         `json:"drag,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
}

func toCalendar(v calendar.View) calendarResp {
	resp := calendarResp{
		Week:      v.Week.String(),
		Timezone:  v.Timezone,
		Days:      make([]string, 7),
		Total:     v.Grid.Len(),
		Degraded:  len(v.Partial) > 0,
		Campaigns: v.Campaigns,
		FetchedAt: v.FetchedAt,
	}
	if resp.Campaigns == nil {
		resp.Campaigns = []domain.Campaign{}
	}
	for i := range resp.Days {
		resp.Days[i] = v.Week.AddDays(i).String()
	}
	cells := v.Grid.Cells()
	resp.Cells = make([]cellResp, 0, len(cells))
	for _, c := range cells {
		evs := make([]eventResp, 0, len(c.Events))
		for _, ev := range c.Events {
			evs = append(evs, toEvent(ev))
		}
		resp.Cells = append(resp.Cells, cellResp{Slot: c.Slot, Date: c.Date, Events: evs})
	}
	for _, p := range v.Partial {
		resp.Partial = append(resp.Partial, partialResp{Source: p.Source, Error: p.Err.Error()})
	}
	if v.Drag != nil {
		dr := toDrag(*v.Drag)
		resp.Drag = &dr
	}
	return resp
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(d.Ready))
	for name := range d.Ready {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := d.Ready[name](r.Context()); err != nil {
			WriteProblem(w, http.StatusServiceUnavailable, "not ready", name+" not reachable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Calendar ---

// HandleGetCalendar refreshes the session for ?week= (default: the current
// week) and renders its grid.
func (d *ServerDeps) HandleGetCalendar(w http.ResponseWriter, r *http.Request) {
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	week := s.CurrentWeek(ctx)
	if raw := strings.TrimSpace(r.URL.Query().Get("week")); raw != "" {
		t, errs := domain.ValidateWeekParam(raw)
		if len(errs) > 0 {
			fieldProblem(w, errs)
			return
		}
		week = timezone.DateOf(t)
	}
	v, err := s.Refresh(ctx, week)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCalendar(v))
}

type beginDragReq struct {
	EventKey string `json:"event_key"`
}

func (d *ServerDeps) HandleBeginDrag(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	var req beginDragReq
	if !decodeBody(w, r, &req) {
		return
	}
	k, errs := domain.ValidateEventKey(req.EventKey)
	if len(errs) > 0 {
		fieldProblem(w, errs)
		return
	}
	sess, err := s.BeginDrag(k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDrag(sess))
}

func (d *ServerDeps) HandleHover(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	var slot domain.TimeSlot
	if !decodeBody(w, r, &slot) {
		return
	}
	if errs := domain.ValidateSlot(slot); len(errs) > 0 {
		fieldProblem(w, errs)
		return
	}
	sess, err := s.Hover(slot)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDrag(sess))
}

type dropResp struct {
	Outcome    reschedule.Outcome    `json:"outcome"`
	Event      *eventResp            `json:"event,omitempty"`
	Pending    bool                  `json:"pending"`
	Resolution reschedule.Resolution `json:"resolution,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// HandleDrop releases the drag over {day,hour}. Slots outside the grid
// cancel the drag rather than failing. With ?wait=true the response is held
// until the backend patch resolves.
func (d *ServerDeps) HandleDrop(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	var slot domain.TimeSlot
	if !decodeBody(w, r, &slot) {
		return
	}
	ctx := r.Context()
	res, err := s.Drop(ctx, slot)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := dropResp{Outcome: res.Outcome}
	if res.Event.ID != "" {
		ev := toEvent(res.Event)
		resp.Event = &ev
	}
	status := http.StatusOK
	if res.Pending != nil {
		resp.Pending = true
		status = http.StatusAccepted
		if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
			resolution, perr := res.Pending.Wait(ctx)
			if resolution == "" {
				WriteProblem(w, http.StatusGatewayTimeout, "patch still pending", perr.Error(), nil)
				return
			}
			resp.Pending = false
			resp.Resolution = resolution
			status = http.StatusOK
			if perr != nil {
				resp.Error = perr.Error()
			}
			if cur, err := s.Event(res.Pending.Key); err == nil {
				ev := toEvent(cur)
				resp.Event = &ev
			}
		}
	}
	writeJSON(w, status, resp)
}

func (d *ServerDeps) HandleCancelDrag(w http.ResponseWriter, r *http.Request) {
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	if err := s.CancelDrag(); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Posts ---

type scheduleReq struct {
	LocalTime string `json:"local_time"`
}

func (d *ServerDeps) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	k, ok := eventKeyParam(w, r)
	if !ok {
		return
	}
	var req scheduleReq
	if !decodeBody(w, r, &req) {
		return
	}
	local, errs := domain.ValidateLocalTime(req.LocalTime)
	if len(errs) > 0 {
		fieldProblem(w, errs)
		return
	}
	ev, err := s.Schedule(r.Context(), k, local)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEvent(ev))
}

// HandlePublishNow answers 202 while the publish is still being delivered.
func (d *ServerDeps) HandlePublishNow(w http.ResponseWriter, r *http.Request) {
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	k, ok := eventKeyParam(w, r)
	if !ok {
		return
	}
	ev, err := s.PublishNow(r.Context(), k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if ev.Status == domain.StatusQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, toEvent(ev))
}

type publishResultReq struct {
	PlatformURL string `json:"platform_url"`
	Error       string `json:"error"`
}

// HandlePublishResult records the outcome of a publish that was accepted for
// background delivery. A reported failure is applied, not returned as an error.
func (d *ServerDeps) HandlePublishResult(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	k, ok := eventKeyParam(w, r)
	if !ok {
		return
	}
	var req publishResultReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PlatformURL == "" && req.Error == "" {
		fieldProblem(w, []domain.FieldError{{Field: "platform_url", Msg: "platform_url or error is required"}})
		return
	}
	ev, err := s.CompletePublish(k, req.PlatformURL, req.Error)
	if err != nil && !(req.Error != "" && domain.KindOf(err) == domain.KindPublish) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvent(ev))
}

func (d *ServerDeps) HandleCancelPost(w http.ResponseWriter, r *http.Request) {
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	k, ok := eventKeyParam(w, r)
	if !ok {
		return
	}
	ev, err := s.Cancel(r.Context(), k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvent(ev))
}

// --- Countdowns ---

func (d *ServerDeps) HandleCountdown(w http.ResponseWriter, r *http.Request) {
	org, ok := orgParam(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" || len(id) > domain.MaxIDLen {
		fieldProblem(w, []domain.FieldError{{Field: "id", Msg: "required, max length 128"}})
		return
	}
	disp, err := d.Countdowns.Runner(r.Context(), org).Display(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, disp)
}

func (d *ServerDeps) HandleCountdowns(w http.ResponseWriter, r *http.Request) {
	org, ok := orgParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"countdowns": d.Countdowns.Runner(r.Context(), org).Displays()})
}

// --- Timezone ---

type timezoneBody struct {
	Timezone string `json:"timezone"`
}

func (d *ServerDeps) HandleGetTimezone(w http.ResponseWriter, r *http.Request) {
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, timezoneBody{Timezone: s.Timezone(r.Context())})
}

func (d *ServerDeps) HandlePutTimezone(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	var req timezoneBody
	if !decodeBody(w, r, &req) {
		return
	}
	if errs := domain.ValidateTimezoneName(req.Timezone); len(errs) > 0 {
		fieldProblem(w, errs)
		return
	}
	if err := s.SetTimezone(r.Context(), req.Timezone); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- Journal ---

const defaultWindowSeconds = int64(24 * 60 * 60)  // last 24h default
const maxWindowSeconds = int64(90 * 24 * 60 * 60) // cap at 90 days (guardrail)

func (d *ServerDeps) HandleJournalTotals(w http.ResponseWriter, r *http.Request) {
	now := d.Now().Unix()
	since := now - defaultWindowSeconds
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "since must be epoch seconds", nil)
			return
		}
		since = v
	}
	if now-since > maxWindowSeconds {
		since = now - maxWindowSeconds
	}
	totals, err := d.Totals.TransitionTotals(r.Context(), since)
	if err != nil {
		WriteProblem(w, http.StatusInternalServerError, "query error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": since, "totals": totals})
}

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Observe(d.Metrics))

	r.Get("/healthz", d.HandleHealthz)
	r.Get("/readyz", d.HandleReadyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(d.Cfg.Keys()))
		r.Use(RateLimitPerMinute(d.Cfg.RateLimitPerMin, d.Now))
		r.Use(BodyLimit(d.Cfg.MaxBodyBytes))
		r.Use(RequireJSON)

		if d.Totals != nil {
			r.Get("/journal/totals", d.HandleJournalTotals)
		}
		r.Route("/orgs/{org}", func(r chi.Router) {
			r.Get("/calendar", d.HandleGetCalendar)
			r.Post("/calendar/drag", d.HandleBeginDrag)
			r.Delete("/calendar/drag", d.HandleCancelDrag)
			r.Put("/calendar/drag/hover", d.HandleHover)
			r.Post("/calendar/drag/drop", d.HandleDrop)

			r.Post("/posts/{key}/schedule", d.HandleSchedule)
			r.Post("/posts/{key}/publish-now", d.HandlePublishNow)
			r.Post("/posts/{key}/publish-result", d.HandlePublishResult)
			r.Delete("/posts/{key}", d.HandleCancelPost)

			if d.Countdowns != nil {
				r.Get("/campaigns/countdowns", d.HandleCountdowns)
				r.Get("/campaigns/{id}/countdown", d.HandleCountdown)
			}

			r.Get("/timezone", d.HandleGetTimezone)
			r.Put("/timezone", d.HandlePutTimezone)
		})
	})
	return r
}
