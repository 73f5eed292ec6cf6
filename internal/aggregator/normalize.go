package aggregator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
)

// Inputs are the raw collections one fetch cycle produced. Nil slices are
// sources that failed or were not requested.
type Inputs struct {
	Scheduled []domain.ScheduledRecord
	Approved  []domain.ApprovedPost
	Published []domain.PublishedPost
	Campaigns []domain.Campaign
}

// Normalize reduces the three collections to canonical events for [start, end).
//
// Output order: scheduled records, then AI posts, then published posts that
// matched nothing, each in source order. Events sharing a key are merged.
func Normalize(in Inputs, start, end time.Time, log zerolog.Logger) []domain.CanonicalEvent {
	out := make([]domain.CanonicalEvent, 0, len(in.Scheduled)+len(in.Approved)+len(in.Published))
	index := make(map[domain.EventKey]int, cap(out))

	add := func(ev domain.CanonicalEvent) {
		k := ev.Key()
		if i, ok := index[k]; ok {
			out[i] = merge(out[i], ev)
			return
		}
		index[k] = len(out)
		out = append(out, ev)
	}

	for _, rec := range in.Scheduled {
		ev := fromScheduled(rec)
		if ev.ScheduledAt.IsZero() {
			log.Warn().Str("id", rec.ID).Msg("scheduled record has no publish_time; skipped")
			continue
		}
		add(ev)
	}

	for _, p := range in.Approved {
		if p.ScheduledFor.IsZero() {
			continue
		}
		at := p.ScheduledFor.UTC()
		if at.Before(start) || !at.Before(end) {
			continue
		}
		add(fromApproved(p))
	}

	for _, p := range in.Published {
		ev := fromPublished(p)
		if ev.ScheduledAt.IsZero() {
			log.Warn().Str("id", p.ID).Msg("published post has no timestamp; skipped")
			continue
		}
		if p.ScheduledPostID != "" {
			k := domain.EventKey{Namespace: domain.NamespacePost, ID: p.ScheduledPostID}
			if i, ok := index[k]; ok {
				out[i] = merge(out[i], ev)
				continue
			}
		}
		add(ev)
	}

	enrich(out, in.Campaigns)
	return out
}

func fromScheduled(rec domain.ScheduledRecord) domain.CanonicalEvent {
	ev := domain.CanonicalEvent{
		ID:          rec.ID,
		Source:      domain.SourceScheduled,
		ScheduledAt: rec.PublishTime.UTC(),
		DraftID:     rec.DraftID,
		Status:      domain.ParseStatus(rec.Status, domain.StatusScheduled),
		PlatformURL: rec.PlatformURL,
	}
	if d := rec.Draft; d != nil {
		ev.Content = domain.Content{
			Body:     d.Content,
			Images:   images(d.Images, d.ImageURL),
			Hashtags: d.Hashtags,
		}
		ev.CampaignID = d.CampaignID
		if d.Author != nil {
			ev.Author = *d.Author
		}
		if ev.DraftID == "" {
			ev.DraftID = d.ID
		}
	} else {
		// No draft joined: fall back to the copies on the record.
		ev.Content = domain.Content{Body: rec.Content, Images: images(nil, rec.ImageURL)}
	}
	return markPosted(ev)
}

func fromApproved(p domain.ApprovedPost) domain.CanonicalEvent {
	ev := domain.CanonicalEvent{
		ID:          p.ID,
		Source:      domain.SourceAIGenerated,
		ScheduledAt: p.ScheduledFor.UTC(),
		Content:     domain.Content{Body: p.Content, Images: images(nil, p.ImageURL), Hashtags: p.Hashtags},
		CampaignID:  p.CampaignID,
		Status:      domain.ParseStatus(p.Status, domain.StatusScheduled),
		PlatformURL: p.PlatformURL,
	}
	if p.Author != nil {
		ev.Author = *p.Author
	}
	return markPosted(ev)
}

func fromPublished(p domain.PublishedPost) domain.CanonicalEvent {
	at := p.PublishedAt.Time
	if at.IsZero() {
		at = p.ScheduledAt.Time
	}
	ev := domain.CanonicalEvent{
		ID:          p.ID,
		Source:      domain.SourcePublished,
		Content:     domain.Content{Body: p.Content, Images: images(nil, p.ImageURL), Hashtags: p.Hashtags},
		CampaignID:  p.CampaignID,
		Status:      domain.StatusPosted,
		PlatformURL: p.PlatformURL,
	}
	if !at.IsZero() {
		ev.ScheduledAt = at.UTC()
	}
	if p.Author != nil {
		ev.Author = *p.Author
	}
	return ev
}

// markPosted tags any record that already reached the platform.
func markPosted(ev domain.CanonicalEvent) domain.CanonicalEvent {
	if ev.PlatformURL != "" || ev.Status == domain.StatusPosted {
		ev.Status = domain.StatusPosted
	}
	return ev
}

// merge folds b into a. A published side always wins status, URL and time;
// otherwise a keeps its fields and b only fills gaps.
func merge(a, b domain.CanonicalEvent) domain.CanonicalEvent {
	if b.Source == domain.SourcePublished || b.Status == domain.StatusPosted {
		a.Status = domain.StatusPosted
		a.Source = domain.SourcePublished
		if b.PlatformURL != "" {
			a.PlatformURL = b.PlatformURL
		}
		if !b.ScheduledAt.IsZero() {
			a.ScheduledAt = b.ScheduledAt
		}
	}
	if a.Content.IsZero() {
		a.Content = b.Content
	}
	if a.Author.IsZero() {
		a.Author = b.Author
	}
	if a.CampaignID == "" {
		a.CampaignID = b.CampaignID
	}
	if a.DraftID == "" {
		a.DraftID = b.DraftID
	}
	return a
}

// enrich backfills author identity from campaigns. Missing campaigns are ignored.
func enrich(events []domain.CanonicalEvent, campaigns []domain.Campaign) {
	if len(campaigns) == 0 {
		return
	}
	byID := make(map[string]domain.Campaign, len(campaigns))
	for _, c := range campaigns {
		byID[c.ID] = c
	}
	for i := range events {
		ev := &events[i]
		if ev.CampaignID == "" || !ev.Author.IsZero() {
			continue
		}
		if c, ok := byID[ev.CampaignID]; ok && c.PostingAs != nil {
			ev.Author = *c.PostingAs
		}
	}
}

func images(list []string, single string) []string {
	if single == "" {
		return list
	}
	for _, u := range list {
		if u == single {
			return list
		}
	}
	return append(append([]string(nil), list...), single)
}
