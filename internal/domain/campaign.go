package domain

import "time"

// CampaignScheduleState is the countdown input for one campaign.
// ObservedPostCount only detects that a generation happened.
type CampaignScheduleState struct {
	CampaignID        string     `json:"campaign_id"`
	Frequency         string     `json:"frequency"`
	LastGeneration    *time.Time `json:"last_generation_time,omitempty"`
	ObservedPostCount int        `json:"observed_post_count"`
	Baselined         bool       `json:"baselined"`
	Paused            bool       `json:"paused"`
}

// StateFromCampaign seeds a schedule state from a backend campaign record.
func StateFromCampaign(c Campaign) CampaignScheduleState {
	return CampaignScheduleState{
		CampaignID:     c.ID,
		Frequency:      c.Frequency,
		LastGeneration: c.LastGenerationTime.Ptr(),
		Paused:         c.Status != CampaignActive,
	}
}
