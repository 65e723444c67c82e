package auth

import "context"

type contextKey struct{}

const (
	RoleMember  = "member"
	RoleCreator = "creator"
	RoleAdmin   = "admin"
)

// AuthContext is the caller identity established by the bearer token.
type AuthContext struct {
	UserID string
	Role   string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok && ac.UserID != ""
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	return ok && ac.Role == RoleAdmin
}
