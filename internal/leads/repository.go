package leads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dialer-platform/pkg/utils"
)

var ErrNotFound = errors.New("leads: not found")

// Repository is the persistence contract for leads.
//
// ListEligible applies the same filter as Eligible so the selector works on a
// pre-filtered candidate set; the selector re-checks in memory, which keeps
// correctness independent of store-side filter fidelity.
type Repository interface {
	GetByID(ctx context.Context, id string) (Lead, error)
	ListEligible(ctx context.Context, campaignID string, now time.Time, pol SelectionPolicy) ([]Lead, error)
	CountEligible(ctx context.Context, campaignID string, now time.Time, pol SelectionPolicy) (int, error)
	// CountOpen counts leads that still have work left: in flight, or
	// dialable within the attempt budget regardless of retry backoff. A
	// campaign drains when this reaches zero.
	CountOpen(ctx context.Context, campaignID string, retryAttempts int) (int, error)
	Update(ctx context.Context, id string, upd Update) error
	InsertBatch(ctx context.Context, batch []Lead) error
}

// PostgresRepo stores leads in a leads table.
//
// Assumed schema:
//
//	leads(id, campaign_id, phone, first_name, last_name, status, priority,
//	      call_attempts, last_call_at, outcome, created_at, updated_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const leadColumns = `id, campaign_id, phone, first_name, last_name, status, priority, call_attempts, last_call_at, outcome, created_at, updated_at`

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	l, err := scanLead(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

func (r *PostgresRepo) ListEligible(ctx context.Context, campaignID string, now time.Time, pol SelectionPolicy) ([]Lead, error) {
	pol = pol.withDefaults()
	q := `
SELECT ` + leadColumns + `
FROM leads
WHERE campaign_id = $1
  AND status IN ('pending', 'failed')
  AND call_attempts < $2
  AND (last_call_at IS NULL OR last_call_at <= $3)
ORDER BY created_at
`
	cutoff := now.Add(-pol.RetryDelay)
	rows, err := r.db.QueryContext(ctx, q, campaignID, pol.RetryAttempts, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountEligible(ctx context.Context, campaignID string, now time.Time, pol SelectionPolicy) (int, error) {
	pol = pol.withDefaults()
	q := `
SELECT COUNT(*)
FROM leads
WHERE campaign_id = $1
  AND status IN ('pending', 'failed')
  AND call_attempts < $2
  AND (last_call_at IS NULL OR last_call_at <= $3)
`
	cutoff := now.Add(-pol.RetryDelay)
	var n int
	if err := r.db.QueryRowContext(ctx, q, campaignID, pol.RetryAttempts, cutoff).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) CountOpen(ctx context.Context, campaignID string, retryAttempts int) (int, error) {
	if retryAttempts <= 0 {
		retryAttempts = DefaultRetryAttempts
	}
	q := `
SELECT COUNT(*)
FROM leads
WHERE campaign_id = $1
  AND (status = 'in_progress'
       OR (status IN ('pending', 'failed') AND call_attempts < $2))
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, campaignID, retryAttempts).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) Update(ctx context.Context, id string, upd Update) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{}
	i := 1

	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", i))
		args = append(args, string(*upd.Status))
		i++
	}
	if upd.CallAttempts != nil {
		sets = append(sets, fmt.Sprintf("call_attempts = $%d", i))
		args = append(args, *upd.CallAttempts)
		i++
	}
	if upd.LastCallAt != nil {
		sets = append(sets, fmt.Sprintf("last_call_at = $%d", i))
		args = append(args, *upd.LastCallAt)
		i++
	}
	if upd.Outcome != nil {
		sets = append(sets, fmt.Sprintf("outcome = $%d", i))
		args = append(args, *upd.Outcome)
		i++
	}

	q := fmt.Sprintf("UPDATE leads SET %s WHERE id = $%d", strings.Join(sets, ", "), i)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) InsertBatch(ctx context.Context, batch []Lead) error {
	if len(batch) == 0 {
		return nil
	}
	const q = `
INSERT INTO leads (id, campaign_id, phone, first_name, last_name, status, priority, call_attempts, last_call_at, outcome, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, l := range batch {
			if _, err := tx.ExecContext(ctx, q,
				l.ID, l.CampaignID, l.Phone, l.FirstName, l.LastName,
				string(l.Status), string(l.Priority), l.CallAttempts,
				l.LastCallAt, nullableString(l.Outcome), l.CreatedAt, l.UpdatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (Lead, error) {
	var l Lead
	var status, priority string
	var lastCall sql.NullTime
	var outcome sql.NullString
	if err := row.Scan(
		&l.ID, &l.CampaignID, &l.Phone, &l.FirstName, &l.LastName,
		&status, &priority, &l.CallAttempts, &lastCall, &outcome,
		&l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return Lead{}, err
	}
	l.Status = Status(status)
	l.Priority = Priority(priority)
	if lastCall.Valid {
		t := lastCall.Time
		l.LastCallAt = &t
	}
	if outcome.Valid {
		l.Outcome = outcome.String
	}
	return l, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
