package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("calls: not found")

	// ErrStaleStatus is returned by UpdateFromStatus when the record is no
	// longer in the status the caller read. The caller's transition is
	// obsolete; whoever won the write owns the outcome.
	ErrStaleStatus = errors.New("calls: record status changed concurrently")
)

// Repository is the persistence contract for call records.
//
// Create writes a pending record stamped created_at=now. Updates are partial
// and atomic per record: a single UPDATE sets all requested fields together.
type Repository interface {
	Create(ctx context.Context, leadID, campaignID string, now time.Time) (CallRecord, error)
	GetByID(ctx context.Context, id string) (CallRecord, error)
	FindByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error)
	Update(ctx context.Context, id string, upd Update) error
	// UpdateFromStatus is compare-and-swap: the update applies only while the
	// record still has the given status, otherwise ErrStaleStatus. Terminal
	// transitions go through this so a record is finished exactly once.
	UpdateFromStatus(ctx context.Context, id string, from Status, upd Update) error
	ListInFlight(ctx context.Context, campaignID string) ([]CallRecord, error)
	CountInFlight(ctx context.Context, campaignID string) (int, error)
	ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]CallRecord, error)
}

// PostgresRepo stores call records in a call_records table.
//
// Assumed schema:
//
//	call_records(id, lead_id, campaign_id, status, provider_call_id, outcome,
//	             created_at, started_at, ended_at, duration_seconds)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const recordColumns = `id, lead_id, campaign_id, status, provider_call_id, outcome, created_at, started_at, ended_at, duration_seconds`

func (r *PostgresRepo) Create(ctx context.Context, leadID, campaignID string, now time.Time) (CallRecord, error) {
	rec := CallRecord{
		ID:         uuid.NewString(),
		LeadID:     leadID,
		CampaignID: campaignID,
		Status:     StatusPending,
		CreatedAt:  now,
	}
	const q = `
INSERT INTO call_records (id, lead_id, campaign_id, status, created_at, duration_seconds)
VALUES ($1, $2, $3, $4, $5, 0)
`
	if _, err := r.db.ExecContext(ctx, q, rec.ID, rec.LeadID, rec.CampaignID, string(rec.Status), rec.CreatedAt); err != nil {
		return CallRecord{}, err
	}
	return rec, nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (CallRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM call_records WHERE id = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	return rec, err
}

func (r *PostgresRepo) FindByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM call_records WHERE provider_call_id = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, providerCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	return rec, err
}

func (r *PostgresRepo) Update(ctx context.Context, id string, upd Update) error {
	sets, args := updateSets(upd)
	if len(sets) == 0 {
		return nil
	}

	q := fmt.Sprintf("UPDATE call_records SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)+1)
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

func (r *PostgresRepo) UpdateFromStatus(ctx context.Context, id string, from Status, upd Update) error {
	sets, args := updateSets(upd)
	if len(sets) == 0 {
		return nil
	}

	q := fmt.Sprintf("UPDATE call_records SET %s WHERE id = $%d AND status = $%d",
		strings.Join(sets, ", "), len(args)+1, len(args)+2)
	args = append(args, id, string(from))

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
		return ErrStaleStatus
	}
	return nil
}

func updateSets(upd Update) ([]string, []any) {
	sets := []string{}
	args := []any{}
	i := 1

	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", i))
		args = append(args, string(*upd.Status))
		i++
	}
	if upd.ProviderCallID != nil {
		sets = append(sets, fmt.Sprintf("provider_call_id = $%d", i))
		args = append(args, *upd.ProviderCallID)
		i++
	}
	if upd.Outcome != nil {
		sets = append(sets, fmt.Sprintf("outcome = $%d", i))
		args = append(args, *upd.Outcome)
		i++
	}
	if upd.StartedAt != nil {
		sets = append(sets, fmt.Sprintf("started_at = $%d", i))
		args = append(args, *upd.StartedAt)
		i++
	}
	if upd.EndedAt != nil {
		sets = append(sets, fmt.Sprintf("ended_at = $%d", i))
		args = append(args, *upd.EndedAt)
		i++
	}
	if upd.DurationSeconds != nil {
		sets = append(sets, fmt.Sprintf("duration_seconds = $%d", i))
		args = append(args, *upd.DurationSeconds)
		i++
	}
	return sets, args
}

func (r *PostgresRepo) ListInFlight(ctx context.Context, campaignID string) ([]CallRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM call_records WHERE status IN ('pending', 'in_progress')`
	args := []any{}
	if campaignID != "" {
		q += ` AND campaign_id = $1`
		args = append(args, campaignID)
	}
	q += ` ORDER BY created_at`
	return r.list(ctx, q, args...)
}

func (r *PostgresRepo) CountInFlight(ctx context.Context, campaignID string) (int, error) {
	const q = `
SELECT COUNT(*)
FROM call_records
WHERE campaign_id = $1 AND status IN ('pending', 'in_progress')
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, campaignID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]CallRecord, error) {
	const q = `
SELECT ` + recordColumns + `
FROM call_records
WHERE campaign_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`
	return r.list(ctx, q, campaignID, from, to)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]CallRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (CallRecord, error) {
	var rec CallRecord
	var status string
	var providerID, outcome sql.NullString
	var startedAt, endedAt sql.NullTime
	if err := row.Scan(
		&rec.ID, &rec.LeadID, &rec.CampaignID, &status, &providerID, &outcome,
		&rec.CreatedAt, &startedAt, &endedAt, &rec.DurationSeconds,
	); err != nil {
		return CallRecord{}, err
	}
	rec.Status = Status(status)
	if providerID.Valid {
		rec.ProviderCallID = providerID.String
	}
	if outcome.Valid {
		rec.Outcome = outcome.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	return rec, nil
}
