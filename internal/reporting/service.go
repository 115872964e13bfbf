package reporting

import (
	"context"
	"errors"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallStore reads finished and in-flight call records for aggregation.
type CallStore interface {
	ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]calls.CallRecord, error)
}

// LeadStore reads lead progress counters.
type LeadStore interface {
	CountOpen(ctx context.Context, campaignID string, retryAttempts int) (int, error)
}

// CampaignStore resolves the campaign being reported on.
type CampaignStore interface {
	GetByID(ctx context.Context, id string) (campaigns.Campaign, error)
}

type Service struct {
	campaignStore CampaignStore
	leadStore     LeadStore
	callStore     CallStore
}

func NewService(campaignStore CampaignStore, leadStore LeadStore, callStore CallStore) *Service {
	return &Service{campaignStore: campaignStore, leadStore: leadStore, callStore: callStore}
}

// DialSummary aggregates call records for one campaign over a time range.
// Reads come straight from the stores; no snapshotting, so concurrent dialing
// can shift counts between calls.
func (s *Service) DialSummary(ctx context.Context, req DialSummaryRequest) (DialSummary, error) {
	if req.CampaignID == "" {
		return DialSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return DialSummary{}, ErrInvalidRequest
	}

	camp, err := s.campaignStore.GetByID(ctx, req.CampaignID)
	if err != nil {
		return DialSummary{}, err
	}
	pol := camp.Policy.WithDefaults()

	rows, err := s.callStore.ListByCampaign(ctx, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return DialSummary{}, err
	}

	out := DialSummary{CampaignID: req.CampaignID, ControlStatus: string(camp.ControlStatus)}
	terminal := 0
	for _, r := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += r.DurationSeconds
		switch r.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
			terminal++
		case calls.StatusAbandoned:
			out.AbandonedCalls++
			terminal++
		case calls.StatusFailed:
			out.FailedCalls++
			terminal++
		case calls.StatusPending, calls.StatusInProgress:
			out.InFlightCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	if terminal > 0 {
		out.ConnectRate = float64(out.CompletedCalls) / float64(terminal)
	}

	open, err := s.leadStore.CountOpen(ctx, req.CampaignID, pol.RetryAttempts)
	if err != nil {
		return DialSummary{}, err
	}
	out.OpenLeads = open

	return out, nil
}
