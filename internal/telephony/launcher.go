package telephony

import (
	"context"
	"time"
)

// Launcher is the provider-agnostic boundary that places outbound calls.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Launch must return quickly: it hands the call to the provider and
//   reports only immediate rejection (bad number, no route). Call progress
//   arrives later via provider events or the lifecycle sweep.
type Launcher interface {
	Name() string
	HealthCheck(ctx context.Context) error
	Launch(ctx context.Context, req LaunchRequest) (LaunchResult, error)
}

// LaunchRequest asks the provider to dial one lead.
type LaunchRequest struct {
	CallRecordID string `json:"call_record_id"`
	CampaignID   string `json:"campaign_id"`
	LeadID       string `json:"lead_id"`

	// To is the lead's phone number, E.164 where possible.
	To string `json:"to"`

	RequestedAt time.Time `json:"requested_at"`
}

// LaunchResult reports the provider's synchronous answer.
type LaunchResult struct {
	// ProviderCallID is the provider's handle for the dialed call. Empty when
	// the launch was rejected immediately.
	ProviderCallID string `json:"provider_call_id"`

	// ImmediateFailure is set when the provider rejected the call outright.
	// The dispatcher treats this as a terminal failed attempt, not a fault.
	ImmediateFailure bool   `json:"immediate_failure"`
	FailureReason    string `json:"failure_reason,omitempty"`
}
