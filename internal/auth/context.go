package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxOperatorID ctxKey = iota
	ctxWorkspaceID
	ctxRole
)

func WithIdentity(ctx context.Context, operatorID, workspaceID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxOperatorID, operatorID)
	ctx = context.WithValue(ctx, ctxWorkspaceID, workspaceID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func OperatorID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxOperatorID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("operator_id not in context")
}

func WorkspaceID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxWorkspaceID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("workspace_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
