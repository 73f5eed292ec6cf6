// Package countdown projects the time left until each campaign's next content
// generation and detects generations by watching its post count.
package countdown

import (
	"fmt"
	"sort"
	"time"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
)

const day = 24 * time.Hour

var frequencies = map[string]time.Duration{
	"every_5_minutes":  5 * time.Minute,
	"every_15_minutes": 15 * time.Minute,
	"every_30_minutes": 30 * time.Minute,
	"hourly":           time.Hour,
	"every_2_hours":    2 * time.Hour,
	"every_4_hours":    4 * time.Hour,
	"every_6_hours":    6 * time.Hour,
	"every_12_hours":   12 * time.Hour,
	"daily":            day,
	"every_other_day":  2 * day,
	"weekly":           7 * day,
	"bi_weekly":        14 * day,
}

// Interval returns the generation interval for a frequency label.
func Interval(label string) (time.Duration, error) {
	d, ok := frequencies[label]
	if !ok {
		return 0, domain.E(domain.KindValidation, "frequency", fmt.Errorf("unknown frequency %q", label))
	}
	return d, nil
}

// Frequencies lists the known labels, shortest interval first.
func Frequencies() []string {
	out := make([]string, 0, len(frequencies))
	for k := range frequencies {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return frequencies[out[i]] < frequencies[out[j]] })
	return out
}

type Phase string

const (
	PhasePendingFirst Phase = "pending_first"
	PhaseCounting     Phase = "counting"
	PhaseGenerating   Phase = "generating"
	PhasePaused       Phase = "paused"
)

// Display is what a countdown shows at one instant.
type Display struct {
	CampaignID       string        `json:"campaign_id"`
	Frequency        string        `json:"frequency"`
	Phase            Phase         `json:"phase"`
	Remaining        time.Duration `json:"-"`
	RemainingSeconds int64         `json:"remaining_seconds"`
	NextGeneration   *time.Time    `json:"next_generation,omitempty"`
}

// Project computes the display for state at now. Remaining is never negative:
// once the expected generation time passes without a reset the phase is
// Generating.
func Project(state domain.CampaignScheduleState, now time.Time) (Display, error) {
	d := Display{CampaignID: state.CampaignID, Frequency: state.Frequency}
	if state.Paused {
		d.Phase = PhasePaused
		return d, nil
	}
	interval, err := Interval(state.Frequency)
	if err != nil {
		return d, err
	}
	if state.LastGeneration == nil {
		d.Phase = PhasePendingFirst
		return d, nil
	}

	next := state.LastGeneration.UTC().Add(interval)
	d.NextGeneration = &next
	remaining := next.Sub(now)
	if remaining <= 0 {
		d.Phase = PhaseGenerating
		return d, nil
	}
	d.Phase = PhaseCounting
	d.Remaining = remaining
	d.RemainingSeconds = int64(remaining / time.Second)
	return d, nil
}
