package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DialSummaryRequest requests aggregated dialing metrics for one campaign.

type DialSummaryRequest struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`
}

type DialSummary struct {
	CampaignID    string `json:"campaign_id"`
	ControlStatus string `json:"control_status"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	AbandonedCalls int `json:"abandoned_calls"`
	FailedCalls    int `json:"failed_calls"`
	InFlightCalls  int `json:"in_flight_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// ConnectRate is completed calls over terminal calls.
	ConnectRate float64 `json:"connect_rate"`

	// OpenLeads counts leads with dialing work left (in flight or within the
	// retry budget).
	OpenLeads int `json:"open_leads"`
}
