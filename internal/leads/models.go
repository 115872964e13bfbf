package leads

import "time"

// Lead is one dialable contact within a campaign.
//
// Ownership invariants:
// - CallAttempts only ever increases.
// - Status transitions are monotonic; terminal statuses (completed, failed,
//   dnc) are never left.
// - The dispatcher marks a lead in_progress when it creates a call record;
//   the lifecycle advancer owns all terminal transitions and write-backs.
//
// NOTE: This is a domain model only. Import/CRM fields (source, company,
// custom attributes) belong to the import layer, not the scheduler.

type Lead struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	Phone     string `json:"phone" db:"phone"`
	FirstName string `json:"first_name,omitempty" db:"first_name"`
	LastName  string `json:"last_name,omitempty" db:"last_name"`

	Status   Status   `json:"status" db:"status"`
	Priority Priority `json:"priority" db:"priority"`

	CallAttempts int        `json:"call_attempts" db:"call_attempts"`
	LastCallAt   *time.Time `json:"last_call_at,omitempty" db:"last_call_at"`
	Outcome      string     `json:"outcome,omitempty" db:"outcome"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAbandoned  Status = "abandoned"
	StatusDNC        Status = "dnc"
)

// IsTerminal reports whether no further scheduler transition applies.
// A dnc lead is terminal by exclusion: it is never selected again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAbandoned, StatusDNC:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank maps a priority to its ordering weight. Unknown or unset values rank
// as normal so imported leads without a priority column still dial.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// Update is a partial lead update. Nil fields are left untouched.
// CallAttempts is set absolutely (not incremented) so callers read-modify-
// write under whatever serialization their store provides.
type Update struct {
	Status       *Status
	CallAttempts *int
	LastCallAt   *time.Time
	Outcome      *string
}

// AttemptOutcome builds the lead write-back for one finished dial attempt:
// attempts incremented, last_call_at stamped, and the lead routed either back
// to pending (retry after backoff) or to the given terminal status.
//
// A non-successful attempt that exhausts the budget lands on failed
// regardless of the requested terminal status.
func AttemptOutcome(l Lead, terminal Status, outcome string, retryAttempts int, now time.Time) Update {
	attempts := l.CallAttempts + 1
	status := terminal
	if terminal != StatusCompleted {
		if attempts >= retryAttempts {
			status = StatusFailed
		} else {
			status = StatusPending
		}
	}
	t := now
	return Update{
		Status:       &status,
		CallAttempts: &attempts,
		LastCallAt:   &t,
		Outcome:      &outcome,
	}
}
