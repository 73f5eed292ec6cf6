// Package aggregator fetches the scheduled, AI-generated and published post
// collections for a week and reconciles them into canonical events.
package aggregator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/metrics"
)

// Source labels used in logs, metrics and SourceError.
const (
	LabelScheduled = "scheduled"
	LabelAI        = "ai_generated"
	LabelPublished = "published"
	LabelCampaigns = "campaigns"
)

// Source is the read side of the post backend.
type Source interface {
	ListScheduled(ctx context.Context, orgID string, start, end time.Time) ([]domain.ScheduledRecord, error)
	ListApproved(ctx context.Context, orgID string) ([]domain.ApprovedPost, error)
	ListPublished(ctx context.Context, orgID string, start, end time.Time) ([]domain.PublishedPost, error)
	ListCampaigns(ctx context.Context, orgID string) ([]domain.Campaign, error)
}

// PostCounter is implemented by sources that can count a campaign's posts
// without listing them.
type PostCounter interface {
	CountCampaignPosts(ctx context.Context, orgID, campaignID string) (int, error)
}

// SourceError records one collection that could not be fetched.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string { return e.Source + ": " + e.Err.Error() }

func (e SourceError) Unwrap() error { return e.Err }

// Result is one reconciled week. Partial lists the sources that failed;
// their events are missing from Events.
type Result struct {
	Events    []domain.CanonicalEvent
	Campaigns []domain.Campaign
	Partial   []SourceError
}

// Degraded reports whether any post source failed.
func (r Result) Degraded() bool {
	for _, p := range r.Partial {
		if p.Source != LabelCampaigns {
			return true
		}
	}
	return false
}

type Aggregator struct {
	src     Source
	log     zerolog.Logger
	metrics *metrics.Collector
	flight  singleflight.Group
}

func New(src Source, m *metrics.Collector) *Aggregator {
	return &Aggregator{src: src, log: logging.Component("aggregator"), metrics: m}
}

// WithLogger replaces the component logger.
func (a *Aggregator) WithLogger(l zerolog.Logger) *Aggregator {
	a.log = l
	return a
}

// FetchWeek loads [weekStart, weekEnd) for orgID. Each source may fail on its
// own; the others are still returned. An error is returned only when all
// three post sources fail.
func (a *Aggregator) FetchWeek(ctx context.Context, orgID string, weekStart, weekEnd time.Time) (Result, error) {
	var (
		in                                 Inputs
		errSched, errAI, errPub, errCampgn error
		g                                  errgroup.Group
	)

	g.Go(func() error {
		in.Scheduled, errSched = a.src.ListScheduled(ctx, orgID, weekStart, weekEnd)
		return nil
	})
	g.Go(func() error {
		in.Approved, errAI = a.src.ListApproved(ctx, orgID)
		return nil
	})
	g.Go(func() error {
		in.Published, errPub = a.src.ListPublished(ctx, orgID, weekStart, weekEnd)
		return nil
	})
	g.Go(func() error {
		in.Campaigns, errCampgn = a.Campaigns(ctx, orgID)
		return nil
	})
	_ = g.Wait()

	var res Result
	for _, se := range []SourceError{
		{LabelScheduled, errSched},
		{LabelAI, errAI},
		{LabelPublished, errPub},
		{LabelCampaigns, errCampgn},
	} {
		if se.Err == nil {
			continue
		}
		res.Partial = append(res.Partial, se)
		a.metrics.SourceFailed(se.Source)
		a.log.Warn().Err(se.Err).Str("org_id", orgID).Str("source", se.Source).Msg("source fetch failed; rendering partial week")
	}
	// drop whatever a failed source returned alongside its error
	if errSched != nil {
		in.Scheduled = nil
	}
	if errAI != nil {
		in.Approved = nil
	}
	if errPub != nil {
		in.Published = nil
	}
	if errCampgn != nil {
		in.Campaigns = nil
	}

	if errSched != nil && errAI != nil && errPub != nil {
		a.metrics.WeekFetched("failed")
		return res, domain.E(domain.KindFetch, "fetch week", errors.Join(errSched, errAI, errPub))
	}

	res.Events = Normalize(in, weekStart, weekEnd, a.log)
	res.Campaigns = in.Campaigns
	if res.Degraded() {
		a.metrics.WeekFetched("partial")
	} else {
		a.metrics.WeekFetched("ok")
	}
	a.log.Debug().Str("org_id", orgID).Int("events", len(res.Events)).Int("failed_sources", len(res.Partial)).Msg("week fetched")
	return res, nil
}

// Campaigns fetches the campaign list, collapsing concurrent calls per org.
func (a *Aggregator) Campaigns(ctx context.Context, orgID string) ([]domain.Campaign, error) {
	v, err, _ := a.flight.Do("campaigns:"+orgID, func() (any, error) {
		return a.src.ListCampaigns(ctx, orgID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Campaign), nil
}

// CampaignPostCount counts AI posts produced by one campaign. The countdown
// polls this to detect that a generation happened.
func (a *Aggregator) CampaignPostCount(ctx context.Context, orgID, campaignID string) (int, error) {
	v, err, _ := a.flight.Do("count:"+orgID+":"+campaignID, func() (any, error) {
		if pc, ok := a.src.(PostCounter); ok {
			return pc.CountCampaignPosts(ctx, orgID, campaignID)
		}
		posts, err := a.src.ListApproved(ctx, orgID)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, p := range posts {
			if p.CampaignID == campaignID {
				n++
			}
		}
		return n, nil
	})
	if err != nil {
		return 0, domain.E(domain.KindFetch, "count campaign posts", err)
	}
	return v.(int), nil
}
