package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/aggregator"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/backend"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/calendar"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/config"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/countdown"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/lifecycle"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/metrics"
)

var testNow = time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu        sync.Mutex
	tz        string
	scheduled []domain.ScheduledRecord
	campaigns []domain.Campaign
}

func (f *fakeBackend) ListScheduled(_ context.Context, _ string, start, end time.Time) ([]domain.ScheduledRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScheduledRecord
	for _, r := range f.scheduled {
		if !r.PublishTime.Before(start) && r.PublishTime.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeBackend) ListApproved(context.Context, string) ([]domain.ApprovedPost, error) {
	return nil, nil
}

func (f *fakeBackend) ListPublished(context.Context, string, time.Time, time.Time) ([]domain.PublishedPost, error) {
	return nil, nil
}

func (f *fakeBackend) ListCampaigns(context.Context, string) ([]domain.Campaign, error) {
	return f.campaigns, nil
}

func (f *fakeBackend) Reschedule(context.Context, string, domain.EventKey, time.Time, string) error {
	return nil
}

func (f *fakeBackend) CreateSchedule(_ context.Context, _, draftID string, at time.Time, _ string) (domain.ScheduledRecord, error) {
	return domain.ScheduledRecord{ID: "s-" + draftID, DraftID: draftID, PublishTime: domain.Timestamp{Time: at}}, nil
}

func (f *fakeBackend) PublishNow(context.Context, string, domain.EventKey, string) (string, error) {
	return "https://www.linkedin.com/feed/update/1", nil
}

func (f *fakeBackend) Cancel(context.Context, string, domain.EventKey) error { return nil }

func (f *fakeBackend) GetTimezone(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tz, nil
}

func (f *fakeBackend) SetTimezone(_ context.Context, _, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tz = name
	return nil
}

func newBackend() *fakeBackend {
	last := testNow.Add(-30 * time.Minute)
	return &fakeBackend{
		tz: "America/New_York",
		scheduled: []domain.ScheduledRecord{{
			ID:          "p1",
			DraftID:     "d1",
			PublishTime: domain.Timestamp{Time: time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)},
			Status:      "scheduled",
			Content:     "hello",
		}},
		campaigns: []domain.Campaign{{
			ID:                 "c1",
			Status:             domain.CampaignActive,
			Frequency:          "hourly",
			LastGenerationTime: domain.Timestamp{Time: last},
		}},
	}
}

func newServer(t *testing.T, b *fakeBackend, cfg config.ServerConfig) (*ServerDeps, http.Handler) {
	t.Helper()
	now := func() time.Time { return testNow }
	m := metrics.New("test")
	agg := aggregator.New(b, m).WithLogger(logging.Nop())
	cals, err := calendar.NewManager(calendar.Deps{
		Aggregator: agg,
		Machine:    lifecycle.New(b, lifecycle.WithLogger(logging.Nop()), lifecycle.WithMetrics(m)),
		Patcher:    b,
		Settings:   b,
		Metrics:    m,
		Calendar:   config.DefaultConfig().Calendar,
		Now:        now,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	nop := logging.Nop()
	hub := countdown.NewHub(ctx, agg, countdown.NewMemoryStore(), countdown.Options{Now: now, Logger: &nop, Metrics: m})
	t.Cleanup(func() {
		cancel()
		hub.Wait()
	})

	d := &ServerDeps{
		Cfg:        cfg,
		Calendars:  cals,
		Countdowns: hub,
		Metrics:    m,
		Ready:      map[string]ReadyCheck{"backend": func(context.Context) error { return nil }},
		Now:        now,
	}
	return d, d.Router()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	d, h := newServer(t, newBackend(), config.ServerConfig{})

	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = do(h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	d.Ready["database"] = func(context.Context) error { return errors.New("down") }
	rec = do(d.Router(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database not reachable")
}

func TestGetCalendar(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{})

	rec := do(h, http.MethodGet, "/v1/orgs/org1/calendar?week=2024-01-10", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got calendarResp
	decode(t, rec, &got)
	assert.Equal(t, "2024-01-07", got.Week)
	assert.Equal(t, "America/New_York", got.Timezone)
	assert.Equal(t, "2024-01-13", got.Days[6])
	assert.False(t, got.Degraded)
	require.Len(t, got.Cells, 1)
	assert.Equal(t, domain.TimeSlot{Day: 3, Hour: 9}, got.Cells[0].Slot)
	require.Len(t, got.Cells[0].Events, 1)
	assert.Equal(t, "post:p1", got.Cells[0].Events[0].Key)

	rec = do(h, http.MethodGet, "/v1/orgs/org1/calendar?week=next", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestDragFlow(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{})
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/v1/orgs/org1/calendar?week=2024-01-07", "").Code)

	rec := do(h, http.MethodPost, "/v1/orgs/org1/calendar/drag", `{"event_key":"post:p1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var drag dragResp
	decode(t, rec, &drag)
	assert.Equal(t, "post:p1", drag.EventKey)
	assert.Equal(t, domain.TimeSlot{Day: 3, Hour: 9}, drag.Origin)

	rec = do(h, http.MethodPost, "/v1/orgs/org1/calendar/drag", `{"event_key":"post:p1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(h, http.MethodPut, "/v1/orgs/org1/calendar/drag/hover", `{"day":4,"hour":14}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/v1/orgs/org1/calendar/drag/drop?wait=true", `{"day":4,"hour":14}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var drop struct {
		Outcome    string
		Resolution string
		Event      struct {
			Key         string
			ScheduledAt time.Time `json:"scheduled_at"`
		}
	}
	decode(t, rec, &drop)
	assert.Equal(t, "dropped_valid", drop.Outcome)
	assert.Equal(t, "confirmed", drop.Resolution)
	assert.Equal(t, time.Date(2024, 1, 11, 19, 0, 0, 0, time.UTC), drop.Event.ScheduledAt.UTC())

	rec = do(h, http.MethodPost, "/v1/orgs/org1/calendar/drag/drop", `{"day":1,"hour":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDrag_DropOutsideGridCancels(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{})
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/v1/orgs/org1/calendar?week=2024-01-07", "").Code)
	require.Equal(t, http.StatusCreated, do(h, http.MethodPost, "/v1/orgs/org1/calendar/drag", `{"event_key":"post:p1"}`).Code)

	rec := do(h, http.MethodPost, "/v1/orgs/org1/calendar/drag/drop", `{"day":9,"hour":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var drop dropResp
	decode(t, rec, &drop)
	assert.Equal(t, "cancelled", string(drop.Outcome))
	assert.False(t, drop.Pending)

	assert.Equal(t, http.StatusConflict, do(h, http.MethodDelete, "/v1/orgs/org1/calendar/drag", "").Code)
}

func TestDrag_UnknownEvent(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{})
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/v1/orgs/org1/calendar?week=2024-01-07", "").Code)

	rec := do(h, http.MethodPost, "/v1/orgs/org1/calendar/drag", `{"event_key":"ai:nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var p Problem
	decode(t, rec, &p)
	assert.Equal(t, "urn:calendar:problem:not_found", p.Type)
	assert.NotEmpty(t, p.Meta["request_id"])

	rec = do(h, http.MethodPost, "/v1/orgs/org1/calendar/drag", `{"event_key":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decode(t, rec, &p)
	assert.Contains(t, p.Errors, "event_key")
}

func TestPublishNowThenDragRejected(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{})
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/v1/orgs/org1/calendar?week=2024-01-07", "").Code)

	rec := do(h, http.MethodPost, "/v1/orgs/org1/posts/post:p1/publish-now", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ev eventResp
	decode(t, rec, &ev)
	assert.Equal(t, domain.StatusPosted, ev.Status)
	assert.Equal(t, "https://www.linkedin.com/feed/update/1", ev.PlatformURL)

	rec = do(h, http.MethodPost, "/v1/orgs/org1/calendar/drag", `{"event_key":"post:p1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(h, http.MethodDelete, "/v1/orgs/org1/posts/post:p1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSchedule(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{})
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/v1/orgs/org1/calendar?week=2024-01-07", "").Code)

	rec := do(h, http.MethodPost, "/v1/orgs/org1/posts/post:d7/schedule", `{"local_time":"tomorrow"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var p Problem
	decode(t, rec, &p)
	assert.Contains(t, p.Errors, "local_time")

	rec = do(h, http.MethodPost, "/v1/orgs/org1/posts/post:d7/schedule", `{"local_time":"2024-01-01T10:00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/v1/orgs/org1/posts/post:d7/schedule", `{"local_time":"2024-01-12T08:30"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ev eventResp
	decode(t, rec, &ev)
	assert.Equal(t, "post:s-d7", ev.Key)
	assert.Equal(t, domain.StatusScheduled, ev.Status)
	assert.Equal(t, time.Date(2024, 1, 12, 13, 30, 0, 0, time.UTC), ev.ScheduledAt.UTC())

	rec = do(h, http.MethodPost, "/v1/orgs/org1/posts/post:d7/schedule", `{"local_time":"2024-01-12T08:30","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishResult(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{})
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/v1/orgs/org1/calendar?week=2024-01-07", "").Code)

	rec := do(h, http.MethodPost, "/v1/orgs/org1/posts/post:p1/publish-result", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// p1 is still Scheduled, so a completion is an illegal transition.
	rec = do(h, http.MethodPost, "/v1/orgs/org1/posts/post:p1/publish-result", `{"platform_url":"u"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTimezoneEndpoints(t *testing.T) {
	b := newBackend()
	_, h := newServer(t, b, config.ServerConfig{})

	rec := do(h, http.MethodGet, "/v1/orgs/org1/timezone", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"timezone":"America/New_York"}`, rec.Body.String())

	rec = do(h, http.MethodPut, "/v1/orgs/org1/timezone", `{"timezone":"Mars/Olympus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPut, "/v1/orgs/org1/timezone", `{"timezone":"Europe/Berlin"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Europe/Berlin", b.tz)

	rec = do(h, http.MethodGet, "/v1/orgs/org1/timezone", "")
	assert.JSONEq(t, `{"timezone":"Europe/Berlin"}`, rec.Body.String())
}

func TestCountdownEndpoint(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{})

	rec := do(h, http.MethodGet, "/v1/orgs/org1/campaigns/c1/countdown", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var disp countdown.Display
	decode(t, rec, &disp)
	assert.Equal(t, countdown.PhaseCounting, disp.Phase)
	assert.Equal(t, int64(30*60), disp.RemainingSeconds)

	rec = do(h, http.MethodGet, "/v1/orgs/org1/campaigns/missing/countdown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/v1/orgs/org1/campaigns/countdowns", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"campaign_id":"c1"`)
}

func TestCountdownEndpoint_RejectsBadOrg(t *testing.T) {
	d, h := newServer(t, newBackend(), config.ServerConfig{})
	long := strings.Repeat("o", 129)

	rec := do(h, http.MethodGet, "/v1/orgs/"+long+"/campaigns/c1/countdown", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(h, http.MethodGet, "/v1/orgs/"+long+"/campaigns/countdowns", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(h, http.MethodGet, "/v1/orgs/%20/campaigns/countdowns", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, d.Countdowns.Len())
}

func TestAPIKeyAndContentType(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{APIKeys: "k1, k2"})

	rec := do(h, http.MethodGet, "/v1/orgs/org1/timezone", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/orgs/org1/timezone", nil)
	req.Header.Set("X-API-Key", "k2")
	ok := httptest.NewRecorder()
	h.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	req = httptest.NewRequest(http.MethodPut, "/v1/orgs/org1/timezone", strings.NewReader(`{"timezone":"UTC"}`))
	req.Header.Set("X-API-Key", "k1")
	req.Header.Set("Content-Type", "text/plain")
	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, bad.Code)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
}

func TestRateLimitPerMinute(t *testing.T) {
	clock := testNow
	mw := RateLimitPerMinute(2, func() time.Time { return clock })
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusNoContent, do(h, http.MethodGet, "/", "").Code)
	}
	rec := do(h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))

	clock = clock.Add(30 * time.Second)
	assert.Equal(t, http.StatusNoContent, do(h, http.MethodGet, "/", "").Code)
}

func TestRequestIDReused(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{})
	id := "5f0c7f3a-1111-4b4b-9c9c-123456789abc"

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(RequestIDHeader))
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.E(domain.KindValidation, "x", errors.New("bad")), http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrTerminalState, http.StatusUnprocessableEntity},
		{domain.ErrDragActive, http.StatusConflict},
		{domain.E(domain.KindFetch, "refresh", errors.New("boom")), http.StatusBadGateway},
		{domain.E(domain.KindPatch, "reschedule", fmt.Errorf("wrap: %w", backend.ErrUnavailable)), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		got, _ := statusOf(c.err)
		assert.Equal(t, c.want, got, c.err.Error())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newServer(t, newBackend(), config.ServerConfig{})
	do(h, http.MethodGet, "/healthz", "")

	rec := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `calendar_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}
