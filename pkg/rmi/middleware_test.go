package rmi_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kbirk/rmi/pkg/rmi"
	"github.com/kbirk/rmi/pkg/rmi/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectWithMiddleware(t *testing.T, router *rmi.Router, svc rmi.Service, middleware ...rmi.Middleware) *rmi.Endpoint {
	a, b := local.Pipe()
	t.Cleanup(func() { a.Close() })
	router.AddInterface(b)

	e := rmi.NewEndpoint(rmi.EndpointConfig{
		Interface:  a,
		Service:    svc,
		Middleware: middleware,
	})
	require.NoError(t, e.WaitRegistered(waitContext(t)))
	return e
}

func TestMiddlewareRunsInOrder(t *testing.T) {
	router := rmi.NewRouter(rmi.RouterConfig{})

	mu := &sync.Mutex{}
	var order []string
	record := func(name string) rmi.Middleware {
		return func(ctx context.Context, method string, args []any, next rmi.Method) (any, error) {
			mu.Lock()
			order = append(order, name+":"+method)
			mu.Unlock()
			return next(ctx, args)
		}
	}

	server := connectWithMiddleware(t, router, rmi.Methods{"add": add}, record("first"), record("second"))
	client := connect(t, router, nil)

	res, err := client.Call(waitContext(t), server.ID(), "add", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res)
	assert.Equal(t, []string{"first:add", "second:add"}, order)
}

func TestMiddlewareRejects(t *testing.T) {
	router := rmi.NewRouter(rmi.RouterConfig{})

	deny := func(ctx context.Context, method string, args []any, next rmi.Method) (any, error) {
		caller, _ := rmi.CallerFromContext(ctx)
		if caller.SourceID != rmi.RouterID {
			return nil, errors.New("only the router may call")
		}
		return next(ctx, args)
	}

	server := connectWithMiddleware(t, router, rmi.Methods{"add": add}, deny)
	client := connect(t, router, nil)

	_, err := client.Call(waitContext(t), server.ID(), "add", 1, 2)
	var remote *rmi.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "only the router may call", remote.Message)

	res, err := router.Call(waitContext(t), server.ID(), "add", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res)

	// unresolved methods fail before middleware runs
	_, err = router.Call(waitContext(t), server.ID(), "missing")
	assert.ErrorIs(t, err, rmi.ErrInvalidServiceMethod)
}

func TestMiddlewareRewritesArguments(t *testing.T) {
	router := rmi.NewRouter(rmi.RouterConfig{})

	double := func(ctx context.Context, method string, args []any, next rmi.Method) (any, error) {
		return next(ctx, append(args, args...))
	}

	server := connectWithMiddleware(t, router, rmi.NewService(&summer{}), double)
	client := connect(t, router, nil)

	res, err := client.Call(waitContext(t), server.ID(), "sum", 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 12, res)
}

func TestRouterMiddleware(t *testing.T) {
	mu := &sync.Mutex{}
	var seen []string
	router := rmi.NewRouter(rmi.RouterConfig{
		Middleware: []rmi.Middleware{
			func(ctx context.Context, method string, args []any, next rmi.Method) (any, error) {
				mu.Lock()
				seen = append(seen, method)
				mu.Unlock()
				return next(ctx, args)
			},
		},
	})

	connect(t, router, nil)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, waitTimeout, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"registerRmiEndpoint", "endpointRegistrationConfirmed"}, seen)
}

type summer struct{}

func (s *summer) Sum(values ...int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}
