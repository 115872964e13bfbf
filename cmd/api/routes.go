package main

import (
	"database/sql"
	"time"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/rbac"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// routeDeps carries everything route registration needs. Constructed once in
// main; no globals.
type routeDeps struct {
	Auth     *auth.Manager
	Handlers httpapi.Handlers
	Applier  telephony.EventApplier
	DB       *sql.DB
	Redis    *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to
// internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.DB, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "postgres": "down"})
			return
		}
		if err := deps.Redis.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "redis": "down"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: protect with provider signature validation in production.
	{
		h := telephony.CallStatusHandler{Applier: deps.Applier}
		r.POST("/webhooks/provider/call-status", h.HandleCallStatus)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.Auth))
	{
		v1.GET("/me", func(c *gin.Context) {
			oid, _ := auth.OperatorID(c.Request.Context())
			wid, _ := auth.WorkspaceID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"operator_id": oid, "workspace_id": wid, "role": role})
		})

		// CAMPAIGN routes
		cg := v1.Group("/campaigns/:campaign_id")
		cg.Use(rbac.RequireWorkspace())
		{
			// Reads: any workspace role.
			cg.GET("", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleAgent, rbac.RoleAnalyst), deps.Handlers.GetCampaign)
			cg.GET("/report", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleAnalyst), deps.Handlers.DialSummary)

			// Control and imports: owner/supervisor only.
			control := cg.Group("")
			control.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSupervisor))
			{
				control.POST("/start", deps.Handlers.StartCampaign)
				control.POST("/pause", deps.Handlers.PauseCampaign)
				control.POST("/resume", deps.Handlers.ResumeCampaign)
				control.POST("/stop", deps.Handlers.StopCampaign)
				control.POST("/leads", deps.Handlers.ImportLeads)
			}
		}
	}

	// Token issuance is unauthenticated by definition.
	r.POST("/v1/auth/login", deps.Handlers.Login)
}
