package postgres

import (
	"context"
	"fmt"
)

// CountCampaignPosts counts the AI posts a campaign has produced so far.
func (db *DB) CountCampaignPosts(ctx context.Context, orgID, campaignID string) (int, error) {
	var n int64
	err := db.Pool.QueryRow(ctx,
		"SELECT COUNT(*)::bigint FROM approved_posts WHERE organization_id = $1 AND campaign_id = $2",
		orgID, campaignID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count campaign posts: %w", err)
	}
	return int(n), nil
}

// TransitionTotals returns how many journal rows exist per target status
// since the given epoch second.
func (db *DB) TransitionTotals(ctx context.Context, since int64) (map[string]int64, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT to_status, COUNT(*)::bigint
FROM calendar_transitions
WHERE at >= to_timestamp($1)
GROUP BY 1
ORDER BY 1`, since)
	if err != nil {
		return nil, fmt.Errorf("query transition totals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan transition total: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
