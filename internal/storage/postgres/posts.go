package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
)

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func ts(p *time.Time) domain.Timestamp {
	if p == nil {
		return domain.Timestamp{}
	}
	return domain.Timestamp{Time: p.UTC()}
}

func author(typ, name *string) *domain.Author {
	if typ == nil && name == nil {
		return nil
	}
	return &domain.Author{Type: domain.AuthorType(str(typ)), DisplayName: str(name)}
}

func (db *DB) ListScheduled(ctx context.Context, orgID string, start, end time.Time) ([]domain.ScheduledRecord, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT s.id, s.draft_id, s.publish_time, s.status, s.platform_url, s.content, s.image_url,
       d.id, d.content, d.image_url, d.images, d.hashtags, d.campaign_id
FROM scheduled_posts s
LEFT JOIN drafts d ON d.id = s.draft_id
WHERE s.organization_id = $1 AND s.publish_time >= $2 AND s.publish_time < $3
ORDER BY s.publish_time, s.id`, orgID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query scheduled posts: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledRecord
	for rows.Next() {
		var (
			rec                                 domain.ScheduledRecord
			publish                             time.Time
			url, content, image                 *string
			draftID, draftBody, draftImage, cid *string
			images, tags                        []string
		)
		if err := rows.Scan(&rec.ID, &rec.DraftID, &publish, &rec.Status, &url, &content, &image,
			&draftID, &draftBody, &draftImage, &images, &tags, &cid); err != nil {
			return nil, fmt.Errorf("scan scheduled post: %w", err)
		}
		rec.PublishTime = domain.Timestamp{Time: publish.UTC()}
		rec.PlatformURL = str(url)
		rec.Content = str(content)
		rec.ImageURL = str(image)
		if draftID != nil {
			rec.Draft = &domain.Draft{
				ID:         *draftID,
				Content:    str(draftBody),
				ImageURL:   str(draftImage),
				Images:     images,
				Hashtags:   tags,
				CampaignID: str(cid),
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (db *DB) ListApproved(ctx context.Context, orgID string) ([]domain.ApprovedPost, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT id, campaign_id, content, image_url, hashtags, scheduled_for, status, platform_url, author_type, author_name
FROM approved_posts
WHERE organization_id = $1
ORDER BY scheduled_for NULLS LAST, id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query approved posts: %w", err)
	}
	defer rows.Close()

	var out []domain.ApprovedPost
	for rows.Next() {
		var (
			p                       domain.ApprovedPost
			image, url, atype, name *string
			scheduled               *time.Time
		)
		if err := rows.Scan(&p.ID, &p.CampaignID, &p.Content, &image, &p.Hashtags, &scheduled,
			&p.Status, &url, &atype, &name); err != nil {
			return nil, fmt.Errorf("scan approved post: %w", err)
		}
		p.ImageURL = str(image)
		p.ScheduledFor = ts(scheduled)
		p.PlatformURL = str(url)
		p.Author = author(atype, name)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) ListPublished(ctx context.Context, orgID string, start, end time.Time) ([]domain.PublishedPost, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT id, scheduled_post_id, campaign_id, content, image_url, hashtags, scheduled_at, published_at,
       status, platform_url, author_type, author_name
FROM posts
WHERE organization_id = $1
  AND COALESCE(published_at, scheduled_at) >= $2
  AND COALESCE(published_at, scheduled_at) < $3
ORDER BY COALESCE(published_at, scheduled_at), id`, orgID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query published posts: %w", err)
	}
	defer rows.Close()

	var out []domain.PublishedPost
	for rows.Next() {
		var (
			p                                domain.PublishedPost
			schedID, cid, image, url, at, nm *string
			scheduled, published             *time.Time
		)
		if err := rows.Scan(&p.ID, &schedID, &cid, &p.Content, &image, &p.Hashtags, &scheduled, &published,
			&p.Status, &url, &at, &nm); err != nil {
			return nil, fmt.Errorf("scan published post: %w", err)
		}
		p.ScheduledPostID = str(schedID)
		p.CampaignID = str(cid)
		p.ImageURL = str(image)
		p.ScheduledAt = ts(scheduled)
		p.PublishedAt = ts(published)
		p.PlatformURL = str(url)
		p.Author = author(at, nm)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) ListCampaigns(ctx context.Context, orgID string) ([]domain.Campaign, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT id, name, status, posting_frequency, last_generation_time, posting_as_type, posting_as_name
FROM campaigns
WHERE organization_id = $1
ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var (
			c         domain.Campaign
			last      *time.Time
			atype, nm *string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.Frequency, &last, &atype, &nm); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.LastGenerationTime = ts(last)
		c.PostingAs = author(atype, nm)
		out = append(out, c)
	}
	return out, rows.Err()
}

// table maps an event key to its table and time column.
func table(k domain.EventKey) (name, timeCol string) {
	if k.Namespace == domain.NamespaceAI {
		return "approved_posts", "scheduled_for"
	}
	return "scheduled_posts", "publish_time"
}

// Reschedule moves a post. Rewriting the same instant twice is harmless, so
// the idempotency key is not stored.
func (db *DB) Reschedule(ctx context.Context, orgID string, key domain.EventKey, at time.Time, _ string) error {
	tbl, col := table(key)
	sql := fmt.Sprintf("UPDATE %s SET %s = $1, updated_at = now() WHERE id = $2 AND organization_id = $3", tbl, col)
	ct, err := db.Pool.Exec(ctx, sql, at.UTC(), key.ID, orgID)
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", key, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("reschedule %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

// CreateSchedule inserts a schedule for a draft. A repeated idempotency key
// returns the row created the first time.
func (db *DB) CreateSchedule(ctx context.Context, orgID, draftID string, at time.Time, idemKey string) (domain.ScheduledRecord, error) {
	var (
		rec     domain.ScheduledRecord
		publish time.Time
	)
	err := db.Pool.QueryRow(ctx, `
INSERT INTO scheduled_posts (id, organization_id, draft_id, publish_time, status, idempotency_key)
VALUES ($1, $2, $3, $4, 'scheduled', NULLIF($5, ''))
ON CONFLICT (idempotency_key) DO UPDATE SET idempotency_key = EXCLUDED.idempotency_key
RETURNING id, draft_id, publish_time, status`,
		uuid.NewString(), orgID, draftID, at.UTC(), idemKey,
	).Scan(&rec.ID, &rec.DraftID, &publish, &rec.Status)
	if err != nil {
		return rec, fmt.Errorf("insert scheduled post: %w", err)
	}
	rec.PublishTime = domain.Timestamp{Time: publish.UTC()}
	return rec, nil
}

// PublishNow flags the post for the publishing worker. Completion arrives
// later through the publish completion endpoint.
func (db *DB) PublishNow(ctx context.Context, orgID string, key domain.EventKey, _ string) (string, error) {
	tbl, _ := table(key)
	sql := fmt.Sprintf(`UPDATE %s SET status = 'publishing', updated_at = now()
WHERE id = $1 AND organization_id = $2 AND status NOT IN ('posted', 'published', 'cancelled', 'failed')`, tbl)
	ct, err := db.Pool.Exec(ctx, sql, key.ID, orgID)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", key, err)
	}
	if ct.RowsAffected() == 0 {
		return "", fmt.Errorf("publish %s: %w", key, domain.ErrNotFound)
	}
	return "", domain.ErrPublishAccepted
}

func (db *DB) Cancel(ctx context.Context, orgID string, key domain.EventKey) error {
	tbl, _ := table(key)
	ct, err := db.Pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND organization_id = $2", tbl), key.ID, orgID)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", key, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("cancel %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

func (db *DB) GetTimezone(ctx context.Context, orgID string) (string, error) {
	var tz string
	err := db.Pool.QueryRow(ctx, "SELECT timezone FROM user_settings WHERE organization_id = $1", orgID).Scan(&tz)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query timezone: %w", err)
	}
	return tz, nil
}

func (db *DB) SetTimezone(ctx context.Context, orgID, name string) error {
	_, err := db.Pool.Exec(ctx, `
INSERT INTO user_settings (organization_id, timezone) VALUES ($1, $2)
ON CONFLICT (organization_id) DO UPDATE SET timezone = EXCLUDED.timezone, updated_at = now()`, orgID, name)
	if err != nil {
		return fmt.Errorf("upsert timezone: %w", err)
	}
	return nil
}
