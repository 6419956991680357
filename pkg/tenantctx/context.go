package tenantctx

import "context"

type keyType string

const (
	tenantIDKey keyType = "tenant_id"
	userIDKey   keyType = "user_id"
	roleKey     keyType = "role"
)

// Principal is the authenticated caller of a tenant-scoped request.
type Principal struct {
	TenantID string
	UserID   string
	Role     string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, p.TenantID)
	ctx = context.WithValue(ctx, userIDKey, p.UserID)
	return context.WithValue(ctx, roleKey, p.Role)
}

func TenantID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantIDKey).(string)
	return id, ok && id != ""
}

func FromContext(ctx context.Context) (Principal, bool) {
	tenantID, ok := TenantID(ctx)
	if !ok {
		return Principal{}, false
	}
	userID, _ := ctx.Value(userIDKey).(string)
	role, _ := ctx.Value(roleKey).(string)
	return Principal{TenantID: tenantID, UserID: userID, Role: role}, true
}
