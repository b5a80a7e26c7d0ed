package auth

import "context"

type contextKey struct{}

type AuthContext struct {
	UserID    int64
	IsAdmin   bool
	SessionID int64
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

// UserIDPtr returns the caller's ID for audit columns, or nil when the
// request is unauthenticated.
func UserIDPtr(ctx context.Context) *int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	id := ac.UserID
	return &id
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.IsAdmin
}
