// Package backend is the HTTP client for the post collaborator: the scheduled,
// AI-generated and published collections, campaigns and timezone settings.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/rs/zerolog"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/config"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/idempotency"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/metrics"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("backend unavailable")

const maxErrorBody = 4 << 10

type Client struct {
	base    string
	token   string
	http    *http.Client
	breaker circuitbreaker.CircuitBreaker[any]
	metrics *metrics.Collector
	log     zerolog.Logger
}

// New builds a client. Calls are never retried; the breaker only makes
// them fail fast while the backend keeps failing. Client errors (4xx) do
// not count as breaker failures.
func New(cfg config.BackendConfig, m *metrics.Collector) *Client {
	log := logging.Component("backend")
	window := cfg.BreakerWindow
	if window < cfg.BreakerFailures {
		window = cfg.BreakerFailures
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 1
	}
	if window == 0 {
		window = 1
	}

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return countsAsFailure(err) }).
		WithFailureThresholdRatio(failures, window).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			m.BreakerChanged(stateName(e.NewState))
			log.Warn().
				Str("from", stateName(e.OldState)).
				Str("to", stateName(e.NewState)).
				Msg("backend circuit breaker state change")
		}).
		Build()

	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		metrics: m,
		log:     log,
	}
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var he *domain.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// BreakerOpen reports whether calls are currently short-circuited.
func (c *Client) BreakerOpen() bool { return c.breaker.IsOpen() }

type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	idemKey string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	_, err := failsafe.With[any](c.breaker).Get(func() (any, error) {
		return nil, c.roundTrip(ctx, r, out)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%s %s: %w", r.method, r.path, ErrUnavailable)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, r request, out any) error {
	u := c.base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if r.idemKey != "" {
		req.Header.Set(idempotency.Header, r.idemKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", r.method).
		Str("path", r.path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

func orgQuery(orgID string) url.Values {
	return url.Values{"organization_id": []string{orgID}}
}

func rangeQuery(orgID string, start, end time.Time) url.Values {
	q := orgQuery(orgID)
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	return q
}

// collection maps an event key to the backend collection that owns it.
func collection(k domain.EventKey) string {
	if k.Namespace == domain.NamespaceAI {
		return "/approved-posts/"
	}
	return "/scheduled-posts/"
}

func (c *Client) ListScheduled(ctx context.Context, orgID string, start, end time.Time) ([]domain.ScheduledRecord, error) {
	var out []domain.ScheduledRecord
	err := c.do(ctx, request{method: http.MethodGet, path: "/scheduled-posts", query: rangeQuery(orgID, start, end)}, &out)
	return out, err
}

func (c *Client) ListApproved(ctx context.Context, orgID string) ([]domain.ApprovedPost, error) {
	var out []domain.ApprovedPost
	err := c.do(ctx, request{method: http.MethodGet, path: "/approved-posts", query: orgQuery(orgID)}, &out)
	return out, err
}

func (c *Client) ListPublished(ctx context.Context, orgID string, start, end time.Time) ([]domain.PublishedPost, error) {
	var out []domain.PublishedPost
	err := c.do(ctx, request{method: http.MethodGet, path: "/posts", query: rangeQuery(orgID, start, end)}, &out)
	return out, err
}

func (c *Client) ListCampaigns(ctx context.Context, orgID string) ([]domain.Campaign, error) {
	var out []domain.Campaign
	err := c.do(ctx, request{method: http.MethodGet, path: "/campaigns", query: orgQuery(orgID)}, &out)
	return out, err
}

// Reschedule patches the publish time of a scheduled post, or the
// scheduled_for of an AI post.
func (c *Client) Reschedule(ctx context.Context, orgID string, key domain.EventKey, at time.Time, idemKey string) error {
	field := "publish_time"
	if key.Namespace == domain.NamespaceAI {
		field = "scheduled_for"
	}
	body := map[string]string{
		field:             at.UTC().Format(time.RFC3339),
		"organization_id": orgID,
	}
	return c.do(ctx, request{
		method:  http.MethodPatch,
		path:    collection(key) + url.PathEscape(key.ID),
		body:    body,
		idemKey: idemKey,
	}, nil)
}

func (c *Client) CreateSchedule(ctx context.Context, orgID, draftID string, at time.Time, idemKey string) (domain.ScheduledRecord, error) {
	var out domain.ScheduledRecord
	body := map[string]string{
		"draft_id":        draftID,
		"publish_time":    at.UTC().Format(time.RFC3339),
		"organization_id": orgID,
	}
	err := c.do(ctx, request{method: http.MethodPost, path: "/scheduled-posts", body: body, idemKey: idemKey}, &out)
	return out, err
}

type publishResponse struct {
	PlatformURL string `json:"platform_url"`
	PostURL     string `json:"post_url"`
}

func (c *Client) PublishNow(ctx context.Context, orgID string, key domain.EventKey, idemKey string) (string, error) {
	var out publishResponse
	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    collection(key) + url.PathEscape(key.ID) + "/publish-now",
		query:   orgQuery(orgID),
		idemKey: idemKey,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.PlatformURL == "" {
		return out.PostURL, nil
	}
	return out.PlatformURL, nil
}

func (c *Client) Cancel(ctx context.Context, orgID string, key domain.EventKey) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   collection(key) + url.PathEscape(key.ID),
		query:  orgQuery(orgID),
	}, nil)
}

type timezoneBody struct {
	Timezone       string `json:"timezone"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// GetTimezone returns the user's IANA timezone, or "" when unset.
func (c *Client) GetTimezone(ctx context.Context, orgID string) (string, error) {
	var out timezoneBody
	err := c.do(ctx, request{method: http.MethodGet, path: "/settings/timezone", query: orgQuery(orgID)}, &out)
	return out.Timezone, err
}

func (c *Client) SetTimezone(ctx context.Context, orgID, name string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/settings/timezone",
		body:   timezoneBody{Timezone: name, OrganizationID: orgID},
	}, nil)
}

// Ready probes the backend health endpoint.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, request{method: http.MethodGet, path: "/health"}, nil)
}
