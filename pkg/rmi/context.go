package rmi

import "context"

// Caller describes the origin of the message being dispatched.
type Caller struct {
	Interface Interface
	SourceID  EndpointID
}

type callerKey struct{}

func NewContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller of the Call or Notify a Method is
// currently serving.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}
