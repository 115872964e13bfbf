package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/leads"
)

// Config holds the advancer's timing thresholds.
type Config struct {
	// SweepInterval is how often in-flight records are re-evaluated. It must
	// stay well under the smallest transition window or transitions land a
	// full interval late.
	SweepInterval time.Duration

	// PickupDelay is how long a dispatched call sits pending before the
	// simulated pickup moves it to in_progress.
	PickupDelay time.Duration

	// AbandonAfter is how long a call may sit pending before it is written
	// off as abandoned.
	AbandonAfter time.Duration

	// MinCallDuration and MaxCallDuration bound the simulated call length.
	MinCallDuration time.Duration
	MaxCallDuration time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.SweepInterval <= 0 {
		out.SweepInterval = 10 * time.Second
	}
	if out.PickupDelay <= 0 {
		out.PickupDelay = 30 * time.Second
	}
	if out.AbandonAfter <= 0 {
		out.AbandonAfter = 5 * time.Minute
	}
	if out.MinCallDuration <= 0 {
		out.MinCallDuration = 2 * time.Minute
	}
	if out.MaxCallDuration < out.MinCallDuration {
		out.MaxCallDuration = 5 * time.Minute
	}
	return out
}

// CallStore is the slice of the call record repository the advancer uses.
type CallStore interface {
	ListInFlight(ctx context.Context, campaignID string) ([]calls.CallRecord, error)
	FindByProviderCallID(ctx context.Context, providerCallID string) (calls.CallRecord, error)
	UpdateFromStatus(ctx context.Context, id string, from calls.Status, upd calls.Update) error
}

// PolicyStore resolves the campaign retry policy for lead write-backs.
type PolicyStore interface {
	GetByID(ctx context.Context, id string) (campaigns.Campaign, error)
}

// SlotReleaser frees a campaign dial slot when a call reaches a terminal
// state. Implemented by the dialer's slot limiter.
type SlotReleaser interface {
	Release(ctx context.Context, campaignID string) error
}

// Advancer drives each in-flight call record through its lifecycle.
//
// Transitions are applied event-first via ApplyEvent; the periodic sweep is
// the timeout safety net and the only driver when the launcher is simulated.
// Both paths race each other, so every record write is guarded on the status
// the writer read, and terminal transitions commit the record update and the
// lead write-back together through the Finisher. Whoever loses the guard
// backs off; the winner's outcome stands.
//
// Every sweep is idempotent: a record that is already terminal is never
// touched again, and a fault against one record never halts the sweep.
type Advancer struct {
	cfg Config

	callStore     CallStore
	finisher      Finisher
	campaignStore PolicyStore

	// slots and events are optional; nil disables slot release / publishing.
	slots  SlotReleaser
	events *Broadcaster

	log   *slog.Logger
	clock func() time.Time
}

func NewAdvancer(cfg Config, callStore CallStore, finisher Finisher, campaignStore PolicyStore, slots SlotReleaser, events *Broadcaster, log *slog.Logger) *Advancer {
	if log == nil {
		log = slog.Default()
	}
	return &Advancer{
		cfg:           cfg.withDefaults(),
		callStore:     callStore,
		finisher:      finisher,
		campaignStore: campaignStore,
		slots:         slots,
		events:        events,
		log:           log.With("component", "lifecycle"),
		clock:         time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (a *Advancer) Run(ctx context.Context) {
	a.log.Info("lifecycle advancer running", "sweep_interval", a.cfg.SweepInterval.String())
	t := time.NewTicker(a.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("lifecycle advancer stopped")
			return
		case <-t.C:
			if err := a.Sweep(ctx); err != nil {
				a.log.Error("sweep failed", "err", err)
			}
		}
	}
}

// Sweep evaluates every in-flight call record once. Per-record faults are
// logged and skipped; only a failure to list records is returned.
func (a *Advancer) Sweep(ctx context.Context) error {
	now := a.clock().UTC()

	recs, err := a.callStore.ListInFlight(ctx, "")
	if err != nil {
		return fmt.Errorf("lifecycle: list in-flight: %w", err)
	}

	policies := map[string]campaigns.Policy{}
	for _, rec := range recs {
		if err := a.advance(ctx, rec, now, policies); err != nil {
			if errors.Is(err, calls.ErrStaleStatus) {
				// A provider event or sibling sweep finished the record
				// between the list and this write; that outcome stands.
				continue
			}
			a.log.Error("record advance failed",
				"call_record_id", rec.ID,
				"campaign_id", rec.CampaignID,
				"status", string(rec.Status),
				"err", err)
		}
	}
	return nil
}

func (a *Advancer) advance(ctx context.Context, rec calls.CallRecord, now time.Time, policies map[string]campaigns.Policy) error {
	switch rec.Status {
	case calls.StatusPending:
		age := now.Sub(rec.CreatedAt)
		if age >= a.cfg.AbandonAfter {
			pol, err := a.policyFor(ctx, rec.CampaignID, policies)
			if err != nil {
				return err
			}
			return a.abandon(ctx, rec, pol, now)
		}
		if age >= a.cfg.PickupDelay {
			return a.answer(ctx, rec, now)
		}
	case calls.StatusInProgress:
		if rec.StartedAt == nil {
			// started_at missing on an in_progress row; repair so the
			// completion timer has an anchor.
			return a.answer(ctx, rec, now)
		}
		if now.Sub(*rec.StartedAt) >= a.targetDuration(rec.ID) {
			pol, err := a.policyFor(ctx, rec.CampaignID, policies)
			if err != nil {
				return err
			}
			return a.complete(ctx, rec, pol, now)
		}
	}
	return nil
}

// answer moves the record to in_progress and anchors started_at, guarded on
// the status the caller read.
func (a *Advancer) answer(ctx context.Context, rec calls.CallRecord, at time.Time) error {
	st := calls.StatusInProgress
	if err := a.callStore.UpdateFromStatus(ctx, rec.ID, rec.Status, calls.Update{Status: &st, StartedAt: &at}); err != nil {
		return err
	}
	a.publish(Event{Type: EventCallStarted, CampaignID: rec.CampaignID, LeadID: rec.LeadID, CallRecordID: rec.ID, At: at})
	return nil
}

// abandon terminates a call that was never picked up.
func (a *Advancer) abandon(ctx context.Context, rec calls.CallRecord, pol campaigns.Policy, at time.Time) error {
	if err := a.finish(ctx, rec, calls.StatusAbandoned, "abandoned", leads.StatusAbandoned, pol, at); err != nil {
		return err
	}
	a.publish(Event{Type: EventCallAbandoned, CampaignID: rec.CampaignID, LeadID: rec.LeadID, CallRecordID: rec.ID, At: at})
	return nil
}

// complete terminates an answered call after its target duration elapsed.
func (a *Advancer) complete(ctx context.Context, rec calls.CallRecord, pol campaigns.Policy, at time.Time) error {
	if err := a.finish(ctx, rec, calls.StatusCompleted, "completed", leads.StatusCompleted, pol, at); err != nil {
		return err
	}
	a.publish(Event{Type: EventCallCompleted, CampaignID: rec.CampaignID, LeadID: rec.LeadID, CallRecordID: rec.ID, At: at})
	return nil
}

// fail terminates an in-flight call on an external failure signal.
func (a *Advancer) fail(ctx context.Context, rec calls.CallRecord, pol campaigns.Policy, at time.Time, reason string) error {
	if reason == "" {
		reason = "failed"
	}
	if err := a.finish(ctx, rec, calls.StatusFailed, reason, leads.StatusFailed, pol, at); err != nil {
		return err
	}
	a.publish(Event{Type: EventCallFailed, CampaignID: rec.CampaignID, LeadID: rec.LeadID, CallRecordID: rec.ID, At: at})
	return nil
}

// finish commits the terminal record update and the lead write-back through
// the Finisher, then frees the dial slot. On a fault neither write lands and
// the record stays in flight, so the next sweep retries the transition.
func (a *Advancer) finish(ctx context.Context, rec calls.CallRecord, to calls.Status, outcome string, leadTerminal leads.Status, pol campaigns.Policy, at time.Time) error {
	dur := 0
	if rec.StartedAt != nil {
		dur = int(at.Sub(*rec.StartedAt) / time.Second)
	}
	err := a.finisher.FinishCall(ctx, Finish{
		RecordID:        rec.ID,
		From:            rec.Status,
		To:              to,
		Outcome:         outcome,
		At:              at,
		DurationSeconds: dur,
		LeadID:          rec.LeadID,
		LeadTerminal:    leadTerminal,
		RetryAttempts:   pol.WithDefaults().RetryAttempts,
	})
	if err != nil {
		if errors.Is(err, calls.ErrStaleStatus) {
			return err
		}
		return fmt.Errorf("lifecycle: finish call: %w", err)
	}
	a.releaseSlot(ctx, rec.CampaignID)
	return nil
}

func (a *Advancer) policyFor(ctx context.Context, campaignID string, cache map[string]campaigns.Policy) (campaigns.Policy, error) {
	if cache != nil {
		if pol, ok := cache[campaignID]; ok {
			return pol, nil
		}
	}
	camp, err := a.campaignStore.GetByID(ctx, campaignID)
	if err != nil {
		return campaigns.Policy{}, fmt.Errorf("lifecycle: campaign lookup: %w", err)
	}
	pol := camp.Policy.WithDefaults()
	if cache != nil {
		cache[campaignID] = pol
	}
	return pol, nil
}

// targetDuration derives the simulated call length from the record ID, so
// repeated sweeps agree on the deadline without persisting it.
func (a *Advancer) targetDuration(recordID string) time.Duration {
	min, max := a.cfg.MinCallDuration, a.cfg.MaxCallDuration
	span := int64(max-min)/int64(time.Second) + 1
	if span <= 1 {
		return min
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(recordID))
	return min + time.Duration(int64(h.Sum64()%uint64(span)))*time.Second
}

func (a *Advancer) releaseSlot(ctx context.Context, campaignID string) {
	if a.slots == nil {
		return
	}
	if err := a.slots.Release(ctx, campaignID); err != nil {
		// Slot TTL recovers the leak; don't fail the transition over it.
		a.log.Warn("dial slot release failed", "campaign_id", campaignID, "err", err)
	}
}

func (a *Advancer) publish(e Event) {
	if a.events != nil {
		a.events.Publish(e)
	}
}

// ProviderEvent is a call-progress signal from the telephony boundary.
type ProviderEvent struct {
	ProviderCallID string            `json:"provider_call_id"`
	Type           ProviderEventType `json:"type"`
	At             time.Time         `json:"at"`
	Reason         string            `json:"reason,omitempty"`
}

type ProviderEventType string

const (
	ProviderEventAnswered  ProviderEventType = "answered"
	ProviderEventCompleted ProviderEventType = "completed"
	ProviderEventFailed    ProviderEventType = "failed"
)

// ApplyEvent applies a provider call-progress event to the matching record.
// Events drive the same state machine as the sweep, just sooner; duplicate
// or late events against a terminal record are no-ops, and an event that
// loses the status guard to a concurrent sweep backs off the same way.
func (a *Advancer) ApplyEvent(ctx context.Context, ev ProviderEvent) error {
	rec, err := a.callStore.FindByProviderCallID(ctx, ev.ProviderCallID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = a.clock().UTC()
	}
	at = at.UTC()

	err = a.applyEvent(ctx, rec, ev, at)
	if errors.Is(err, calls.ErrStaleStatus) {
		return nil
	}
	return err
}

func (a *Advancer) applyEvent(ctx context.Context, rec calls.CallRecord, ev ProviderEvent, at time.Time) error {
	switch ev.Type {
	case ProviderEventAnswered:
		if rec.Status == calls.StatusPending {
			return a.answer(ctx, rec, at)
		}
		return nil
	case ProviderEventCompleted:
		pol, err := a.policyFor(ctx, rec.CampaignID, nil)
		if err != nil {
			return err
		}
		if rec.Status == calls.StatusPending {
			// Answer event was missed; anchor started_at at the completion
			// instant so the duration math stays honest.
			if err := a.answer(ctx, rec, at); err != nil {
				return err
			}
			rec.Status = calls.StatusInProgress
			rec.StartedAt = &at
		}
		return a.complete(ctx, rec, pol, at)
	case ProviderEventFailed:
		pol, err := a.policyFor(ctx, rec.CampaignID, nil)
		if err != nil {
			return err
		}
		return a.fail(ctx, rec, pol, at, ev.Reason)
	default:
		return fmt.Errorf("lifecycle: unknown provider event type %q", ev.Type)
	}
}
