package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
)

type Writer struct {
	db *DB
}

func NewWriter(db *DB) *Writer { return &Writer{db: db} }

var transitionCols = []string{"event_key", "from_status", "to_status", "at", "reason", "prev_time", "next_time", "campaign_id"}

// transitionInsert builds one multi-row insert. Duplicate (key, to, at)
// rows are skipped so a replayed batch is harmless.
func transitionInsert(items []domain.Transition) (string, []any) {
	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*len(transitionCols))

	argi := 1
	for _, t := range items {
		ph := make([]string, 0, len(transitionCols))
		var campaign any
		if t.CampaignID != "" {
			campaign = t.CampaignID
		}
		var reason any
		if t.Reason != "" {
			reason = t.Reason
		}
		args = append(args, t.Key.String(), string(t.From), string(t.To), t.At.UTC(), reason, t.PrevTime, t.NextTime, campaign)
		for range transitionCols {
			ph = append(ph, fmt.Sprintf("$%d", argi))
			argi++
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	sql := "INSERT INTO calendar_transitions (" + strings.Join(transitionCols, ",") + ") VALUES " +
		strings.Join(placeholders, ",") +
		" ON CONFLICT DO NOTHING"
	return sql, args
}

// InsertTransitions writes a journal batch and returns the rows inserted.
func (w *Writer) InsertTransitions(ctx context.Context, items []domain.Transition) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	sql, args := transitionInsert(items)
	ct, err := w.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
