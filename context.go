package authkit

import "context"

type tenantIDContextKey struct{}
type clientIPContextKey struct{}

// WithTenantID attaches a tenant identifier to ctx. All engine state is
// partitioned per tenant; when none is set the default tenant "0" is
// used.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// WithClientIP attaches the caller's IP address to ctx. It only shows up
// in best-effort log lines for anomalies such as refresh token reuse.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func tenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return "0"
	}

	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	if tenantID == "" {
		return "0"
	}

	return tenantID
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
