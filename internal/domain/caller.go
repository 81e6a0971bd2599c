package domain

import "context"

// Caller is the identity an operation runs as, as supplied by the identity
// provider. A zero UserID means unauthenticated.
type Caller struct {
	UserID  string
	Active  bool
	Profile *User
}

// Authenticated reports whether the caller may perform any operation.
func (c Caller) Authenticated() bool {
	return c.UserID != "" && c.Active
}

type callerKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx, or the zero (unauthenticated)
// caller.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}
