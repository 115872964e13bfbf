package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/leads"
	"dialer-platform/pkg/utils"
)

// Finish describes the terminal transition of one dial attempt: the call
// record update and the lead write-back that must land together.
type Finish struct {
	RecordID string
	// From guards the record write: the transition applies only while the
	// record is still in this status. A lost guard means another writer
	// finished the attempt first and this one is a no-op.
	From            calls.Status
	To              calls.Status
	Outcome         string
	At              time.Time
	DurationSeconds int

	LeadID string
	// LeadTerminal is the requested terminal lead status. The write-back
	// routes the lead back to pending while the retry budget allows.
	LeadTerminal leads.Status
	// RetryAttempts is the campaign's effective retry budget.
	RetryAttempts int
}

// Finisher commits a Finish atomically: either both writes land or neither
// does, so a transient fault leaves the record in flight for the next sweep
// to retry. A lost status guard surfaces as calls.ErrStaleStatus.
type Finisher interface {
	FinishCall(ctx context.Context, fin Finish) error
}

// PostgresFinisher applies the finish in one transaction, with the lead row
// locked while the write-back is computed.
type PostgresFinisher struct {
	db *sql.DB
}

func NewPostgresFinisher(db *sql.DB) *PostgresFinisher { return &PostgresFinisher{db: db} }

func (f *PostgresFinisher) FinishCall(ctx context.Context, fin Finish) error {
	return utils.WithTx(ctx, f.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const recQ = `
UPDATE call_records
SET status = $1, outcome = $2, ended_at = $3, duration_seconds = $4
WHERE id = $5 AND status = $6
`
		res, err := tx.ExecContext(ctx, recQ,
			string(fin.To), fin.Outcome, fin.At, fin.DurationSeconds, fin.RecordID, string(fin.From))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return calls.ErrStaleStatus
		}

		var l leads.Lead
		const lockQ = `SELECT call_attempts FROM leads WHERE id = $1 FOR UPDATE`
		if err := tx.QueryRowContext(ctx, lockQ, fin.LeadID).Scan(&l.CallAttempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return leads.ErrNotFound
			}
			return err
		}

		upd := leads.AttemptOutcome(l, fin.LeadTerminal, fin.Outcome, fin.RetryAttempts, fin.At)
		const leadQ = `
UPDATE leads
SET status = $1, call_attempts = $2, last_call_at = $3, outcome = $4, updated_at = NOW()
WHERE id = $5
`
		_, err = tx.ExecContext(ctx, leadQ,
			string(*upd.Status), *upd.CallAttempts, *upd.LastCallAt, *upd.Outcome, fin.LeadID)
		return err
	})
}

// FinishCallStore is the slice of the call record repository a StoreFinisher
// writes through.
type FinishCallStore interface {
	UpdateFromStatus(ctx context.Context, id string, from calls.Status, upd calls.Update) error
	Update(ctx context.Context, id string, upd calls.Update) error
}

// FinishLeadStore is the slice of the lead repository a StoreFinisher writes
// through.
type FinishLeadStore interface {
	GetByID(ctx context.Context, id string) (leads.Lead, error)
	Update(ctx context.Context, id string, upd leads.Update) error
}

// StoreFinisher commits a finish as guarded repository writes, for memory
// stores that offer no cross-store transaction. When the lead write-back
// fails, the record write is reverted so the next sweep retries the whole
// transition.
type StoreFinisher struct {
	mu        sync.Mutex
	callStore FinishCallStore
	leadStore FinishLeadStore
}

func NewStoreFinisher(callStore FinishCallStore, leadStore FinishLeadStore) *StoreFinisher {
	return &StoreFinisher{callStore: callStore, leadStore: leadStore}
}

func (f *StoreFinisher) FinishCall(ctx context.Context, fin Finish) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	upd := calls.Update{
		Status:          &fin.To,
		Outcome:         &fin.Outcome,
		EndedAt:         &fin.At,
		DurationSeconds: &fin.DurationSeconds,
	}
	if err := f.callStore.UpdateFromStatus(ctx, fin.RecordID, fin.From, upd); err != nil {
		return err
	}

	l, err := f.leadStore.GetByID(ctx, fin.LeadID)
	if err == nil {
		err = f.leadStore.Update(ctx, fin.LeadID,
			leads.AttemptOutcome(l, fin.LeadTerminal, fin.Outcome, fin.RetryAttempts, fin.At))
	}
	if err != nil {
		from := fin.From
		_ = f.callStore.Update(ctx, fin.RecordID, calls.Update{Status: &from})
		return err
	}
	return nil
}
