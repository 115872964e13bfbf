package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("campaigns: not found")
	// ErrStaleStatus is returned by UpdateControlStatus when the row is no
	// longer in the expected status; callers re-read and re-evaluate.
	ErrStaleStatus = errors.New("campaigns: control status changed concurrently")
)

// Repository is the persistence contract for campaigns.
//
// UpdateControlStatus is compare-and-swap: it only writes when the stored
// status matches from, which serializes concurrent control calls without an
// in-process lock.
type Repository interface {
	GetByID(ctx context.Context, id string) (Campaign, error)
	UpdateControlStatus(ctx context.Context, id string, from, to ControlStatus) error
	ListByControlStatus(ctx context.Context, status ControlStatus) ([]Campaign, error)
}

// PostgresRepo stores campaigns in a campaigns table.
//
// Assumed schema:
//
//	campaigns(id, workspace_id, name, control_status, max_concurrent_calls,
//	          retry_attempts, retry_delay_minutes, created_at, updated_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const campaignColumns = `id, workspace_id, name, control_status, max_concurrent_calls, retry_attempts, retry_delay_minutes, created_at, updated_at`

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) UpdateControlStatus(ctx context.Context, id string, from, to ControlStatus) error {
	const q = `
UPDATE campaigns
SET control_status = $1, updated_at = NOW()
WHERE id = $2 AND control_status = $3
`
	res, err := r.db.ExecContext(ctx, q, string(to), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish missing row from a lost CAS race.
		if _, err := r.GetByID(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStaleStatus
	}
	return nil
}

func (r *PostgresRepo) ListByControlStatus(ctx context.Context, status ControlStatus) ([]Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE control_status = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var c Campaign
	var status string
	var retryDelayMinutes int
	if err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.Name, &status,
		&c.Policy.MaxConcurrentCalls, &c.Policy.RetryAttempts, &retryDelayMinutes,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return Campaign{}, err
	}
	c.ControlStatus = ControlStatus(status)
	c.Policy.RetryDelay = time.Duration(retryDelayMinutes) * time.Minute
	return c, nil
}
