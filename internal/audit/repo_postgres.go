package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events to an insert-only audit_events table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	q := `
INSERT INTO audit_events
  (id, workspace_id, type, actor_operator_id, actor_role, ip_address,
   campaign_id, call_record_id, lead_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.WorkspaceID, string(e.Type), e.ActorOperatorID, e.ActorRole, e.IPAddress,
		e.CampaignID, e.CallRecordID, e.LeadID, e.Message, e.Metadata, e.CreatedAt)
	return err
}
