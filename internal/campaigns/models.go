package campaigns

import (
	"time"

	"dialer-platform/internal/leads"
)

// Campaign is an outbound dialing campaign.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// The scheduler reads Policy and ControlStatus; everything else (name, script,
// voice-agent config) belongs to the CRUD layer and is not modeled here.

type Campaign struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Name        string `json:"name" db:"name"`

	ControlStatus ControlStatus `json:"control_status" db:"control_status"`

	Policy Policy `json:"policy"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Policy is the per-campaign dialing policy, read-only to the scheduler.
type Policy struct {
	MaxConcurrentCalls int           `json:"max_concurrent_calls" db:"max_concurrent_calls"`
	RetryAttempts      int           `json:"retry_attempts" db:"retry_attempts"`
	RetryDelay         time.Duration `json:"retry_delay" db:"retry_delay"`
}

const DefaultMaxConcurrentCalls = 1

// WithDefaults fills zero policy fields with the product defaults.
func (p Policy) WithDefaults() Policy {
	out := p
	if out.MaxConcurrentCalls <= 0 {
		out.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	if out.RetryAttempts <= 0 {
		out.RetryAttempts = leads.DefaultRetryAttempts
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = leads.DefaultRetryDelay
	}
	return out
}

// Selection converts the campaign policy into the selector's view of it.
func (p Policy) Selection() leads.SelectionPolicy {
	p = p.WithDefaults()
	return leads.SelectionPolicy{RetryAttempts: p.RetryAttempts, RetryDelay: p.RetryDelay}
}

// ControlStatus gates whether the campaign's dispatch loop may run.
//
// draft → active ⇄ paused → stopped; completed is reached when no eligible
// leads and no in-flight calls remain. stopped and completed are final.
type ControlStatus string

const (
	ControlDraft     ControlStatus = "draft"
	ControlActive    ControlStatus = "active"
	ControlPaused    ControlStatus = "paused"
	ControlStopped   ControlStatus = "stopped"
	ControlCompleted ControlStatus = "completed"
)

func (s ControlStatus) IsFinal() bool {
	return s == ControlStopped || s == ControlCompleted
}
