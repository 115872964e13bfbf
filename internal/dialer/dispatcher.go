package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/lifecycle"
	"dialer-platform/internal/telephony"
)

// CampaignStore resolves the campaign policy and control status per tick.
type CampaignStore interface {
	GetByID(ctx context.Context, id string) (campaigns.Campaign, error)
	ListByControlStatus(ctx context.Context, status campaigns.ControlStatus) ([]campaigns.Campaign, error)
}

// LeadStore is the slice of the lead repository the dispatcher uses.
type LeadStore interface {
	ListEligible(ctx context.Context, campaignID string, now time.Time, pol leads.SelectionPolicy) ([]leads.Lead, error)
	CountOpen(ctx context.Context, campaignID string, retryAttempts int) (int, error)
	Update(ctx context.Context, id string, upd leads.Update) error
}

// CallStore is the slice of the call record repository the dispatcher uses.
type CallStore interface {
	Create(ctx context.Context, leadID, campaignID string, now time.Time) (calls.CallRecord, error)
	Update(ctx context.Context, id string, upd calls.Update) error
	CountInFlight(ctx context.Context, campaignID string) (int, error)
}

// Dispatcher runs one dispatch tick for a campaign: pick eligible leads while
// capacity remains, create pending call records, and hand them to the
// launcher.
//
// Concurrency discipline: each campaign has exactly one runner goroutine
// calling Tick (single writer), and every dispatch additionally takes an
// atomic slot from the limiter, so the cap holds even when another instance
// dials the same campaign.
type Dispatcher struct {
	campaignStore CampaignStore
	leadStore     LeadStore
	callStore     CallStore
	launcher      telephony.Launcher
	slots         SlotLimiter
	finisher      lifecycle.Finisher

	log   *slog.Logger
	clock func() time.Time
}

func NewDispatcher(campaignStore CampaignStore, leadStore LeadStore, callStore CallStore, launcher telephony.Launcher, slots SlotLimiter, finisher lifecycle.Finisher, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		campaignStore: campaignStore,
		leadStore:     leadStore,
		callStore:     callStore,
		launcher:      launcher,
		slots:         slots,
		finisher:      finisher,
		log:           log.With("component", "dialer"),
		clock:         time.Now,
	}
}

// TickResult summarizes one dispatch tick.
type TickResult struct {
	ControlStatus campaigns.ControlStatus
	Dispatched    int
	// Drained is set when the campaign has no eligible leads and no calls in
	// flight; the caller marks it completed.
	Drained bool
}

// Tick dispatches up to the campaign's free capacity. A returned error is
// transient: nothing is retried inside the tick, the next tick re-evaluates
// from store state.
func (d *Dispatcher) Tick(ctx context.Context, campaignID string) (TickResult, error) {
	var res TickResult

	camp, err := d.campaignStore.GetByID(ctx, campaignID)
	if err != nil {
		return res, err
	}
	res.ControlStatus = camp.ControlStatus
	if camp.ControlStatus != campaigns.ControlActive {
		// Paused or stopped: no new dispatches. In-flight calls keep draining
		// through the lifecycle advancer.
		return res, nil
	}

	pol := camp.Policy.WithDefaults()
	inFlight, err := d.callStore.CountInFlight(ctx, campaignID)
	if err != nil {
		return res, fmt.Errorf("dialer: in-flight count: %w", err)
	}
	available := pol.MaxConcurrentCalls - inFlight

	// Loop until capacity is filled, not a fixed iteration count: a handled
	// launch rejection frees its slot, so it must not cost a fresh dial. The
	// loop still terminates because every rejected lead leaves the eligible
	// set (last_call_at is stamped and the retry delay is always positive).
	for res.Dispatched < available {
		now := d.clock().UTC()

		// Re-read candidates each iteration: the previous dispatch marked its
		// lead in_progress, so it drops out of the eligible set here.
		cands, err := d.leadStore.ListEligible(ctx, campaignID, now, pol.Selection())
		if err != nil {
			return res, fmt.Errorf("dialer: eligible leads: %w", err)
		}
		next := leads.SelectNext(cands, pol.Selection(), now)
		if next == nil {
			if inFlight == 0 && res.Dispatched == 0 {
				// Nothing dialable right now. Leads sitting out a retry
				// backoff still count as work, so only an empty open set
				// drains the campaign.
				open, err := d.leadStore.CountOpen(ctx, campaignID, pol.RetryAttempts)
				if err != nil {
					return res, fmt.Errorf("dialer: open lead count: %w", err)
				}
				res.Drained = open == 0
			}
			return res, nil
		}

		ok, err := d.slots.Acquire(ctx, campaignID, pol.MaxConcurrentCalls)
		if err != nil {
			return res, fmt.Errorf("dialer: slot acquire: %w", err)
		}
		if !ok {
			// Capacity is held by a concurrent dispatcher; yield this tick.
			return res, nil
		}

		launched, err := d.dispatch(ctx, *next, pol, now)
		if err != nil {
			d.releaseSlot(ctx, campaignID)
			return res, err
		}
		if launched {
			res.Dispatched++
		}
	}
	return res, nil
}

// dispatch creates the call record, marks the lead in flight, and launches.
// An immediate provider rejection is a handled terminal outcome, not an
// error; the held slot is released before returning and launched is false.
func (d *Dispatcher) dispatch(ctx context.Context, l leads.Lead, pol campaigns.Policy, now time.Time) (bool, error) {
	rec, err := d.callStore.Create(ctx, l.ID, l.CampaignID, now)
	if err != nil {
		return false, fmt.Errorf("dialer: create call record: %w", err)
	}

	st := leads.StatusInProgress
	if err := d.leadStore.Update(ctx, l.ID, leads.Update{Status: &st}); err != nil {
		return false, fmt.Errorf("dialer: mark lead in flight: %w", err)
	}

	launch, err := d.launcher.Launch(ctx, telephony.LaunchRequest{
		CallRecordID: rec.ID,
		CampaignID:   l.CampaignID,
		LeadID:       l.ID,
		To:           l.Phone,
		RequestedAt:  now,
	})
	if err != nil || launch.ImmediateFailure {
		reason := launch.FailureReason
		if err != nil {
			reason = "launch_error"
			d.log.Error("call launch failed", "campaign_id", l.CampaignID, "lead_id", l.ID, "err", err)
		}
		if ferr := d.failLaunch(ctx, rec, l, pol, now, reason); ferr != nil {
			return false, ferr
		}
		d.releaseSlot(ctx, l.CampaignID)
		return false, nil
	}

	if launch.ProviderCallID != "" {
		pid := launch.ProviderCallID
		if err := d.callStore.Update(ctx, rec.ID, calls.Update{ProviderCallID: &pid}); err != nil {
			return false, fmt.Errorf("dialer: stamp provider call id: %w", err)
		}
	}

	d.log.Info("call dispatched",
		"campaign_id", l.CampaignID,
		"lead_id", l.ID,
		"call_record_id", rec.ID,
		"priority", string(l.Priority),
		"attempt", l.CallAttempts+1)
	return true, nil
}

// failLaunch advances the record and lead to their terminal failure state
// synchronously. This is the one terminal write-back the dispatcher owns; all
// others belong to the lifecycle advancer. It goes through the same Finisher
// as the advancer so both writes land together, and a fault leaves the
// pending record for the sweep to reap.
func (d *Dispatcher) failLaunch(ctx context.Context, rec calls.CallRecord, l leads.Lead, pol campaigns.Policy, now time.Time, reason string) error {
	if reason == "" {
		reason = "launch_rejected"
	}
	err := d.finisher.FinishCall(ctx, lifecycle.Finish{
		RecordID:      rec.ID,
		From:          calls.StatusPending,
		To:            calls.StatusFailed,
		Outcome:       reason,
		At:            now,
		LeadID:        l.ID,
		LeadTerminal:  leads.StatusFailed,
		RetryAttempts: pol.RetryAttempts,
	})
	if err != nil {
		return fmt.Errorf("dialer: fail rejected launch: %w", err)
	}
	d.log.Warn("call rejected at launch",
		"campaign_id", l.CampaignID,
		"lead_id", l.ID,
		"call_record_id", rec.ID,
		"reason", reason)
	return nil
}

func (d *Dispatcher) releaseSlot(ctx context.Context, campaignID string) {
	if err := d.slots.Release(ctx, campaignID); err != nil {
		d.log.Warn("dial slot release failed", "campaign_id", campaignID, "err", err)
	}
}
