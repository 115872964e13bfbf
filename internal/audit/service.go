package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by
//   default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCampaignControl records a control action (start/pause/resume/stop)
// against a campaign.
func (s *Service) LogCampaignControl(ctx context.Context, workspaceID, actorOperatorID, actorRole, ip, campaignID, action string) error {
	return s.Append(ctx, Event{
		WorkspaceID:     workspaceID,
		Type:            EventTypeCampaignControl,
		ActorOperatorID: actorOperatorID,
		ActorRole:       actorRole,
		IPAddress:       ip,
		CampaignID:      campaignID,
		Message:         fmt.Sprintf("campaign %s", action),
	})
}

// LogLeadImport records a lead batch import into a campaign.
func (s *Service) LogLeadImport(ctx context.Context, workspaceID, actorOperatorID, actorRole, ip, campaignID string, count int) error {
	return s.Append(ctx, Event{
		WorkspaceID:     workspaceID,
		Type:            EventTypeLeadImport,
		ActorOperatorID: actorOperatorID,
		ActorRole:       actorRole,
		IPAddress:       ip,
		CampaignID:      campaignID,
		Message:         fmt.Sprintf("imported %d leads", count),
	})
}
