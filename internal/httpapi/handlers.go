package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/rbac"
	"dialer-platform/internal/reporting"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth         *auth.Manager
	Controller   *campaigns.Controller
	CampaignRepo campaigns.Repository
	LeadRepo     leads.Repository
	Reports      *reporting.Service
	Audit        *audit.Service
}

// --- Auth ---

type loginRequest struct {
	OperatorID  string `json:"operator_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OperatorID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id, workspace_id, role required"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.OperatorID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Campaign control ---

// campaignForRequest loads the campaign and enforces the workspace boundary.
func (h Handlers) campaignForRequest(c *gin.Context) (campaigns.Campaign, bool) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return campaigns.Campaign{}, false
	}
	id := c.Param("campaign_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id required"})
		return campaigns.Campaign{}, false
	}
	camp, err := h.CampaignRepo.GetByID(c.Request.Context(), id)
	if errors.Is(err, campaigns.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return campaigns.Campaign{}, false
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign lookup failed"})
		return campaigns.Campaign{}, false
	}
	if camp.WorkspaceID != workspaceID {
		// Do not leak existence across workspaces.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return campaigns.Campaign{}, false
	}
	return camp, true
}

func (h Handlers) GetCampaign(c *gin.Context) {
	camp, ok := h.campaignForRequest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (h Handlers) StartCampaign(c *gin.Context)  { h.control(c, "started", h.Controller.Start) }
func (h Handlers) PauseCampaign(c *gin.Context)  { h.control(c, "paused", h.Controller.Pause) }
func (h Handlers) ResumeCampaign(c *gin.Context) { h.control(c, "resumed", h.Controller.Resume) }
func (h Handlers) StopCampaign(c *gin.Context)   { h.control(c, "stopped", h.Controller.Stop) }

func (h Handlers) control(c *gin.Context, action string, f func(ctx context.Context, campaignID string) error) {
	camp, ok := h.campaignForRequest(c)
	if !ok {
		return
	}

	if err := f(c.Request.Context(), camp.ID); err != nil {
		status, msg := controlErrorStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}

	h.logControl(c, camp, action)

	fresh, err := h.CampaignRepo.GetByID(c.Request.Context(), camp.ID)
	if err != nil {
		fresh = camp
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": fresh.ID, "control_status": fresh.ControlStatus})
}

// controlErrorStatus maps controller errors onto distinguishable HTTP
// responses: failed preconditions are 409, missing campaigns 404.
func controlErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, campaigns.ErrNotFound):
		return http.StatusNotFound, "campaign not found"
	case errors.Is(err, campaigns.ErrNoEligibleLeads),
		errors.Is(err, campaigns.ErrAlreadyActive),
		errors.Is(err, campaigns.ErrAlreadyStopped),
		errors.Is(err, campaigns.ErrNotPaused),
		errors.Is(err, campaigns.ErrFinal),
		errors.Is(err, campaigns.ErrStaleStatus):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "campaign control failed"
	}
}

func (h Handlers) logControl(c *gin.Context, camp campaigns.Campaign, action string) {
	if h.Audit == nil {
		return
	}
	operatorID, _ := auth.OperatorID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	// Best-effort: audit failure must not fail the control action.
	_ = h.Audit.LogCampaignControl(c.Request.Context(), camp.WorkspaceID, operatorID, role, c.ClientIP(), camp.ID, action)
}

// --- Lead import ---

type importLeadRequest struct {
	Phone     string `json:"phone"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

type importLeadsRequest struct {
	Leads []importLeadRequest `json:"leads"`
}

// ImportLeads appends a batch of pending leads to a campaign.
func (h Handlers) ImportLeads(c *gin.Context) {
	camp, ok := h.campaignForRequest(c)
	if !ok {
		return
	}

	var req importLeadsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Leads) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "leads required"})
		return
	}

	now := time.Now().UTC()
	batch := make([]leads.Lead, 0, len(req.Leads))
	for _, in := range req.Leads {
		if in.Phone == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone required for every lead"})
			return
		}
		batch = append(batch, leads.Lead{
			ID:         uuid.NewString(),
			CampaignID: camp.ID,
			Phone:      in.Phone,
			FirstName:  in.FirstName,
			LastName:   in.LastName,
			Status:     leads.StatusPending,
			Priority:   leads.Priority(in.Priority),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := h.LeadRepo.InsertBatch(c.Request.Context(), batch); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lead import failed"})
		return
	}

	if h.Audit != nil {
		operatorID, _ := auth.OperatorID(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())
		_ = h.Audit.LogLeadImport(c.Request.Context(), camp.WorkspaceID, operatorID, role, c.ClientIP(), camp.ID, len(batch))
	}

	c.JSON(http.StatusCreated, gin.H{"imported": len(batch)})
}

// --- Reporting ---

func (h Handlers) DialSummary(c *gin.Context) {
	camp, ok := h.campaignForRequest(c)
	if !ok {
		return
	}
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}

	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		rng.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		rng.To = t
	}

	out, err := h.Reports.DialSummary(c.Request.Context(), reporting.DialSummaryRequest{CampaignID: camp.ID, Range: rng})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// Convenience middleware bundles.

func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
