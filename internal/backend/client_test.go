package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/config"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
)

func newClient(t *testing.T, h http.HandlerFunc, tune ...func(*config.BackendConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.DefaultConfig().Backend
	cfg.BaseURL = srv.URL + "/api/"
	cfg.Token = "secret"
	for _, f := range tune {
		f(&cfg)
	}
	return New(cfg, nil)
}

func TestListScheduled_QueryAndAuth(t *testing.T) {
	start := time.Date(2024, 1, 7, 5, 0, 0, 0, time.UTC)
	end := start.Add(7 * 24 * time.Hour)

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/scheduled-posts", r.URL.Path)
		assert.Equal(t, "org1", r.URL.Query().Get("organization_id"))
		assert.Equal(t, "2024-01-07T05:00:00Z", r.URL.Query().Get("start"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":"s1","draft_id":"d1","publish_time":"2024-01-10T14:00:00","status":"scheduled"}]`))
	})

	recs, err := c.ListScheduled(context.Background(), "org1", start, end)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "s1", recs[0].ID)
	assert.Equal(t, time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC), recs[0].PublishTime.UTC())
}

func TestReschedule_PatchesRightCollection(t *testing.T) {
	var got []map[string]string
	var paths []string
	var idem []string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body)
		paths = append(paths, r.URL.Path)
		idem = append(idem, r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusNoContent)
	})

	at := time.Date(2024, 1, 11, 19, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, c.Reschedule(ctx, "org", domain.EventKey{Namespace: domain.NamespacePost, ID: "p1"}, at, "k1"))
	require.NoError(t, c.Reschedule(ctx, "org", domain.EventKey{Namespace: domain.NamespaceAI, ID: "a1"}, at, "k2"))

	assert.Equal(t, []string{"/api/scheduled-posts/p1", "/api/approved-posts/a1"}, paths)
	assert.Equal(t, "2024-01-11T19:00:00Z", got[0]["publish_time"])
	assert.Equal(t, "2024-01-11T19:00:00Z", got[1]["scheduled_for"])
	assert.Equal(t, []string{"k1", "k2"}, idem)
}

func TestPublishNow_ReturnsURL(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/scheduled-posts/p1/publish-now", r.URL.Path)
		_, _ = w.Write([]byte(`{"platform_url":"https://www.linkedin.com/feed/update/1"}`))
	})
	url, err := c.PublishNow(context.Background(), "org", domain.EventKey{Namespace: domain.NamespacePost, ID: "p1"}, "k")
	require.NoError(t, err)
	assert.Equal(t, "https://www.linkedin.com/feed/update/1", url)
}

func TestErrorStatusIsHTTPError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "draft missing", http.StatusNotFound)
	})
	_, err := c.CreateSchedule(context.Background(), "org", "d1", time.Now(), "k")
	var he *domain.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusNotFound, he.StatusCode)
	assert.Equal(t, "draft missing", he.Body)
	assert.False(t, c.BreakerOpen())
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, func(cfg *config.BackendConfig) {
		cfg.BreakerFailures = 2
		cfg.BreakerWindow = 2
		cfg.BreakerDelay = time.Minute
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		err := c.Cancel(ctx, "org", domain.EventKey{Namespace: domain.NamespacePost, ID: "p1"})
		var he *domain.HTTPError
		require.True(t, errors.As(err, &he))
	}
	assert.True(t, c.BreakerOpen())

	err := c.Cancel(ctx, "org", domain.EventKey{Namespace: domain.NamespacePost, ID: "p1"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTimezoneSettings(t *testing.T) {
	var stored string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/settings/timezone", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]string{"timezone": stored})
		case http.MethodPost:
			var body timezoneBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			stored = body.Timezone
			w.WriteHeader(http.StatusOK)
		}
	})
	ctx := context.Background()
	tz, err := c.GetTimezone(ctx, "org")
	require.NoError(t, err)
	assert.Empty(t, tz)

	require.NoError(t, c.SetTimezone(ctx, "org", "America/New_York"))
	tz, err = c.GetTimezone(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", tz)
}
