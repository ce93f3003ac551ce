package tenancy

import "context"

type ctxKey string

const tenantKey ctxKey = "clinicops.tenant_id"

// WithTenantID stores the tenant id in context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantIDFromContext extracts the tenant id if present.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(tenantKey)
	if val == nil {
		return "", false
	}
	tenantID, ok := val.(string)
	return tenantID, ok && tenantID != ""
}

// Resolve returns explicit when set, otherwise the tenant carried by ctx.
// Sweep entry points accept an optional tenant; an empty result means "all tenants".
func Resolve(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	tenantID, _ := TenantIDFromContext(ctx)
	return tenantID
}
