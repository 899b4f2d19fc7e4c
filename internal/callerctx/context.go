// Package callerctx carries the authenticated caller identity through
// request contexts. The identity is produced by the credential middleware
// and consumed by the resolver and ledger services.
package callerctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Caller is the validated credential identity bound to a request.
type Caller struct {
	UserID        snowflake.ID
	ApplicationID snowflake.ID
	CredentialID  snowflake.ID
}

type callerKey struct{}

// WithCaller stores the caller identity in the context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// FromContext returns the caller identity from context, if set.
func FromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || caller.UserID == 0 {
		return Caller{}, false
	}
	return caller, true
}
