package campaigns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dialer-platform/internal/leads"
)

// Typed control failures. Handlers map these to distinguishable responses so
// operators can tell "no leads" apart from "system error".
var (
	ErrNoEligibleLeads = errors.New("campaigns: no pending leads eligible for dialing")
	ErrAlreadyActive   = errors.New("campaigns: already active")
	ErrAlreadyStopped  = errors.New("campaigns: already stopped")
	ErrNotPaused       = errors.New("campaigns: not paused")
	ErrFinal           = errors.New("campaigns: campaign is in a final state")
)

// Scheduler is the dispatch-side hook the controller drives. The dialer
// manager implements it; tests use a recording stub.
type Scheduler interface {
	// StartRunner ensures a dispatch loop exists for the campaign.
	StartRunner(campaignID string)
	// StopRunner cancels the campaign's dispatch loop. In-flight calls are
	// not touched; the lifecycle advancer drains them.
	StopRunner(campaignID string)
}

// Controller exposes the campaign control surface: start, pause, resume, stop.
//
// Control semantics:
// - start requires at least one eligible lead; this is a validated
//   precondition, not silently treated as success.
// - pause/resume only gate new dispatch ticks.
// - stop is permanent; stopped campaigns cannot be restarted.
// - completed is set by the dispatch loop once nothing remains to dial.
type Controller struct {
	repo      Repository
	leadRepo  leads.Repository
	scheduler Scheduler
	clock     func() time.Time
}

func NewController(repo Repository, leadRepo leads.Repository, scheduler Scheduler) *Controller {
	return &Controller{repo: repo, leadRepo: leadRepo, scheduler: scheduler, clock: time.Now}
}

func (c *Controller) Start(ctx context.Context, campaignID string) error {
	camp, err := c.repo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	switch camp.ControlStatus {
	case ControlActive:
		return ErrAlreadyActive
	case ControlStopped:
		return ErrAlreadyStopped
	case ControlCompleted:
		return ErrFinal
	}

	// Precondition: the campaign must have dialable work. Checked before any
	// status write so a failed start leaves the control status unchanged.
	now := c.clock().UTC()
	n, err := c.leadRepo.CountEligible(ctx, campaignID, now, camp.Policy.Selection())
	if err != nil {
		return fmt.Errorf("campaigns: eligibility check failed: %w", err)
	}
	if n == 0 {
		return ErrNoEligibleLeads
	}

	if err := c.repo.UpdateControlStatus(ctx, campaignID, camp.ControlStatus, ControlActive); err != nil {
		return err
	}
	if c.scheduler != nil {
		c.scheduler.StartRunner(campaignID)
	}
	return nil
}

func (c *Controller) Pause(ctx context.Context, campaignID string) error {
	camp, err := c.repo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	switch camp.ControlStatus {
	case ControlStopped:
		return ErrAlreadyStopped
	case ControlCompleted:
		return ErrFinal
	case ControlActive:
	default:
		return fmt.Errorf("campaigns: cannot pause from %s", camp.ControlStatus)
	}
	// The runner observes the paused status at its next tick; no forced stop.
	return c.repo.UpdateControlStatus(ctx, campaignID, ControlActive, ControlPaused)
}

func (c *Controller) Resume(ctx context.Context, campaignID string) error {
	camp, err := c.repo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	switch camp.ControlStatus {
	case ControlStopped:
		return ErrAlreadyStopped
	case ControlCompleted:
		return ErrFinal
	case ControlPaused:
	default:
		return ErrNotPaused
	}
	if err := c.repo.UpdateControlStatus(ctx, campaignID, ControlPaused, ControlActive); err != nil {
		return err
	}
	if c.scheduler != nil {
		c.scheduler.StartRunner(campaignID)
	}
	return nil
}

func (c *Controller) Stop(ctx context.Context, campaignID string) error {
	camp, err := c.repo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	switch camp.ControlStatus {
	case ControlStopped:
		return ErrAlreadyStopped
	case ControlCompleted:
		return ErrFinal
	case ControlActive, ControlPaused:
	default:
		return fmt.Errorf("campaigns: cannot stop from %s", camp.ControlStatus)
	}
	if err := c.repo.UpdateControlStatus(ctx, campaignID, camp.ControlStatus, ControlStopped); err != nil {
		return err
	}
	if c.scheduler != nil {
		c.scheduler.StopRunner(campaignID)
	}
	return nil
}

// MarkCompleted records that a campaign drained: no eligible leads remain and
// no calls are in flight. Called by the dispatch loop; losing the CAS race to
// a concurrent pause/stop is not an error.
func (c *Controller) MarkCompleted(ctx context.Context, campaignID string) error {
	err := c.repo.UpdateControlStatus(ctx, campaignID, ControlActive, ControlCompleted)
	if errors.Is(err, ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.scheduler != nil {
		c.scheduler.StopRunner(campaignID)
	}
	return nil
}
