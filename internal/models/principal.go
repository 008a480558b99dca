package models

import "context"

const (
	RoleRider  = "rider"
	RoleDriver = "driver"
)

// Principal is the already-authenticated caller.
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func (p Principal) IsDriver() bool { return p.Role == RoleDriver }
func (p Principal) IsRider() bool  { return p.Role == RoleRider }

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
