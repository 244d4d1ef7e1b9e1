package rmi

import (
	"context"
)

// Middleware wraps the invocation of a resolved method, for inbound Calls and
// Notifies alike. Returning without calling next fails the invocation.
type Middleware func(ctx context.Context, method string, args []any, next Method) (any, error)

func buildMethodChain(middleware []Middleware, name string, final Method) Method {

	// start with the resolved method
	chain := final

	// loop backwards so the first middleware runs first
	for i := len(middleware) - 1; i >= 0; i-- {
		m := middleware[i]
		next := chain
		chain = func(ctx context.Context, args []any) (any, error) {
			return m(ctx, name, args, next)
		}
	}

	return chain
}
