package auth

import "context"

// Roles carried in user tokens.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the authenticated caller of a customer endpoint.
type User struct {
	ID   string
	Role string
}

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the user stored by WithUser.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}
