package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// Multi-tenant invariant: WorkspaceID must be present for all non-admin
// activity; campaign control is always scoped to a workspace.
type Claims struct {
	jwt.RegisteredClaims

	OperatorID  string `json:"operator_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}
