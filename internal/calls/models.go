package calls

import "time"

// CallRecord is one row per dial attempt.
//
// Invariants:
// - StartedAt is set only on transition into in_progress.
// - EndedAt is set only on transition into a terminal status.
// - DurationSeconds = ended_at - started_at when both are set, else 0.
// - Terminal records are immutable; re-applying a transition is a no-op.
//
// Exactly one record per lead may be non-terminal at a time; the dispatcher
// enforces this by marking the lead in_progress when it creates the record.

type CallRecord struct {
	ID         string `json:"id" db:"id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	Status Status `json:"status" db:"status"`

	// ProviderCallID is the launcher's handle for this call, used to match
	// provider call-progress events back to the record.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Outcome string `json:"outcome,omitempty" db:"outcome"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAbandoned  Status = "abandoned"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAbandoned:
		return true
	default:
		return false
	}
}

// InFlight is the dispatcher's capacity predicate.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusInProgress
}

// Update is a partial call record update. Nil fields are left untouched.
type Update struct {
	Status          *Status
	ProviderCallID  *string
	Outcome         *string
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
}
