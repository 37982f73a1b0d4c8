package types

import (
	"context"
)

// ContextKey is a type for the keys of values stored in the context
type ContextKey string

const (
	CtxRequestID     ContextKey = "ctx_request_id"
	CtxTenantID      ContextKey = "ctx_tenant_id"
	CtxAccountID     ContextKey = "ctx_account_id"
	CtxComputationID ContextKey = "ctx_computation_id"

	// Default values
	DefaultTenantID = "00000000-0000-0000-0000-000000000000"
)

func GetTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(CtxTenantID).(string); ok {
		return tenantID
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(CtxRequestID).(string); ok {
		return requestID
	}
	return ""
}

func GetAccountID(ctx context.Context) string {
	if accountID, ok := ctx.Value(CtxAccountID).(string); ok {
		return accountID
	}
	return ""
}

func GetComputationID(ctx context.Context) string {
	if id, ok := ctx.Value(CtxComputationID).(string); ok {
		return id
	}
	return ""
}

// SetTenantID sets the tenant ID in the context
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, CtxTenantID, tenantID)
}

// SetRequestID sets the request ID in the context
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, CtxRequestID, requestID)
}

// SetAccountID sets the account being invoiced in the context
func SetAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, CtxAccountID, accountID)
}

// SetComputationID tags the context with the id of one usage computation
func SetComputationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxComputationID, id)
}
