package aggregator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
)

type fakeSource struct {
	scheduled []domain.ScheduledRecord
	approved  []domain.ApprovedPost
	published []domain.PublishedPost
	campaigns []domain.Campaign

	errScheduled, errApproved, errPublished, errCampaigns error
	approvedCalls                                         atomic.Int32
}

func (f *fakeSource) ListScheduled(context.Context, string, time.Time, time.Time) ([]domain.ScheduledRecord, error) {
	return f.scheduled, f.errScheduled
}

func (f *fakeSource) ListApproved(context.Context, string) ([]domain.ApprovedPost, error) {
	f.approvedCalls.Add(1)
	return f.approved, f.errApproved
}

func (f *fakeSource) ListPublished(context.Context, string, time.Time, time.Time) ([]domain.PublishedPost, error) {
	return f.published, f.errPublished
}

func (f *fakeSource) ListCampaigns(context.Context, string) ([]domain.Campaign, error) {
	return f.campaigns, f.errCampaigns
}

var (
	weekStart = time.Date(2024, 1, 7, 5, 0, 0, 0, time.UTC)
	weekEnd   = weekStart.AddDate(0, 0, 7)
)

func ts(t time.Time) domain.Timestamp { return domain.Timestamp{Time: t} }

func newTestAggregator(src Source) *Aggregator {
	return New(src, nil).WithLogger(logging.Nop())
}

func TestFetchWeek_NormalizesAllSources(t *testing.T) {
	at := time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)
	src := &fakeSource{
		scheduled: []domain.ScheduledRecord{{
			ID: "s1", DraftID: "d1", PublishTime: ts(at), Status: "scheduled",
			Content: "stale body",
			Draft:   &domain.Draft{ID: "d1", Content: "draft body", ImageURL: "https://img/1.png", Hashtags: []string{"#go"}},
		}},
		approved: []domain.ApprovedPost{
			{ID: "a1", CampaignID: "c1", Content: "ai body", ScheduledFor: ts(at.Add(time.Hour)), Status: "approved"},
			{ID: "a2", CampaignID: "c1", Content: "next week", ScheduledFor: ts(weekEnd), Status: "approved"},
			{ID: "a3", CampaignID: "c1", Content: "unscheduled"},
		},
		published: []domain.PublishedPost{
			{ID: "p1", Content: "live", PublishedAt: ts(at.Add(-24 * time.Hour)), PlatformURL: "https://linkedin/p1"},
		},
		campaigns: []domain.Campaign{
			{ID: "c1", PostingAs: &domain.Author{Type: domain.AuthorOrganization, DisplayName: "Acme"}},
		},
	}

	res, err := newTestAggregator(src).FetchWeek(context.Background(), "org", weekStart, weekEnd)
	require.NoError(t, err)
	require.Empty(t, res.Partial)
	require.Len(t, res.Events, 3)

	s1 := res.Events[0]
	assert.Equal(t, "s1", s1.ID)
	assert.Equal(t, at, s1.ScheduledAt)
	assert.Equal(t, "draft body", s1.Content.Body)
	assert.Equal(t, []string{"https://img/1.png"}, s1.Content.Images)
	assert.Equal(t, domain.StatusScheduled, s1.Status)

	a1 := res.Events[1]
	assert.Equal(t, domain.SourceAIGenerated, a1.Source)
	assert.Equal(t, "Acme", a1.Author.DisplayName, "author backfilled from campaign")

	p1 := res.Events[2]
	assert.Equal(t, domain.StatusPosted, p1.Status)
	assert.Equal(t, "https://linkedin/p1", p1.PlatformURL)
}

func TestFetchWeek_ScheduledAndPublishedSameIDRenderOnce(t *testing.T) {
	at := time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)
	src := &fakeSource{
		scheduled: []domain.ScheduledRecord{{ID: "42", PublishTime: ts(at), Status: "scheduled",
			Draft: &domain.Draft{Content: "hello"}}},
		published: []domain.PublishedPost{{ID: "42", PublishedAt: ts(at.Add(2 * time.Minute)), PlatformURL: "https://linkedin/42"}},
	}

	res, err := newTestAggregator(src).FetchWeek(context.Background(), "org", weekStart, weekEnd)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, domain.StatusPosted, ev.Status)
	assert.Equal(t, "https://linkedin/42", ev.PlatformURL)
	assert.Equal(t, "hello", ev.Content.Body)
}

func TestFetchWeek_PublishedReferencingSchedule(t *testing.T) {
	at := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{
		scheduled: []domain.ScheduledRecord{{ID: "s9", PublishTime: ts(at), Draft: &domain.Draft{Content: "x"}}},
		published: []domain.PublishedPost{{ID: "p77", ScheduledPostID: "s9", PublishedAt: ts(at), Status: "published"}},
	}
	res, err := newTestAggregator(src).FetchWeek(context.Background(), "org", weekStart, weekEnd)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "s9", res.Events[0].ID)
	assert.Equal(t, domain.StatusPosted, res.Events[0].Status)
}

func TestFetchWeek_RecordWithPlatformURLIsPosted(t *testing.T) {
	at := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{
		scheduled: []domain.ScheduledRecord{{ID: "s1", PublishTime: ts(at), Status: "scheduled", PlatformURL: "https://linkedin/s1"}},
		approved:  []domain.ApprovedPost{{ID: "a1", ScheduledFor: ts(at), Status: "posted"}},
	}
	res, err := newTestAggregator(src).FetchWeek(context.Background(), "org", weekStart, weekEnd)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	for _, ev := range res.Events {
		assert.Equal(t, domain.StatusPosted, ev.Status, ev.ID)
	}
}

func TestFetchWeek_PartialFailureKeepsOtherSources(t *testing.T) {
	at := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{
		scheduled:    []domain.ScheduledRecord{{ID: "s1", PublishTime: ts(at)}},
		errApproved:  errors.New("ai backend down"),
		errPublished: errors.New("timeout"),
		errCampaigns: errors.New("campaigns down"),
	}
	res, err := newTestAggregator(src).FetchWeek(context.Background(), "org", weekStart, weekEnd)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.True(t, res.Degraded())

	var sources []string
	for _, p := range res.Partial {
		sources = append(sources, p.Source)
	}
	assert.ElementsMatch(t, []string{LabelAI, LabelPublished, LabelCampaigns}, sources)
}

func TestFetchWeek_CampaignFailureIsNotDegraded(t *testing.T) {
	src := &fakeSource{errCampaigns: errors.New("nope")}
	res, err := newTestAggregator(src).FetchWeek(context.Background(), "org", weekStart, weekEnd)
	require.NoError(t, err)
	assert.False(t, res.Degraded())
	assert.Len(t, res.Partial, 1)
}

func TestFetchWeek_AllSourcesFail(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{errScheduled: boom, errApproved: boom, errPublished: boom}
	_, err := newTestAggregator(src).FetchWeek(context.Background(), "org", weekStart, weekEnd)
	require.Error(t, err)
	assert.Equal(t, domain.KindFetch, domain.KindOf(err))
	assert.ErrorIs(t, err, boom)
}

func TestCampaignPostCount(t *testing.T) {
	src := &fakeSource{approved: []domain.ApprovedPost{
		{ID: "1", CampaignID: "c1"}, {ID: "2", CampaignID: "c2"}, {ID: "3", CampaignID: "c1"},
	}}
	n, err := newTestAggregator(src).CampaignPostCount(context.Background(), "org", "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	src.errApproved = errors.New("down")
	_, err = newTestAggregator(src).CampaignPostCount(context.Background(), "org", "c1")
	assert.Equal(t, domain.KindFetch, domain.KindOf(err))
}

func TestNormalize_DuplicateScheduledKeepsFirst(t *testing.T) {
	at := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	in := Inputs{Scheduled: []domain.ScheduledRecord{
		{ID: "s1", PublishTime: ts(at), Draft: &domain.Draft{Content: "first"}},
		{ID: "s1", PublishTime: ts(at.Add(time.Hour)), Draft: &domain.Draft{Content: "second"}},
	}}
	out := Normalize(in, weekStart, weekEnd, logging.Nop())
	require.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Content.Body)
	assert.Equal(t, at, out[0].ScheduledAt)
}

func TestNormalize_AIAndScheduledIDsDoNotCollide(t *testing.T) {
	at := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	in := Inputs{
		Scheduled: []domain.ScheduledRecord{{ID: "1", PublishTime: ts(at)}},
		Approved:  []domain.ApprovedPost{{ID: "1", ScheduledFor: ts(at)}},
	}
	out := Normalize(in, weekStart, weekEnd, logging.Nop())
	assert.Len(t, out, 2)
}
