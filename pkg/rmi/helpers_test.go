package rmi_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbirk/rmi/pkg/rmi"
	"github.com/kbirk/rmi/pkg/rmi/local"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// recordingLogger keeps every line so tests can assert on what was logged.
type recordingLogger struct {
	mu    *sync.Mutex
	lines []string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}}
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, level+" "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string) { l.add("DEBUG", msg) }
func (l *recordingLogger) Info(msg string)  { l.add("INFO", msg) }
func (l *recordingLogger) Warn(msg string)  { l.add("WARN", msg) }
func (l *recordingLogger) Error(msg string) { l.add("ERROR", msg) }

func (l *recordingLogger) contains(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, level+" ") && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// errorRecorder collects errors passed to an ErrHandler.
type errorRecorder struct {
	mu   *sync.Mutex
	errs []error
}

func newErrorRecorder() *errorRecorder {
	return &errorRecorder{mu: &sync.Mutex{}}
}

func (r *errorRecorder) handle(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *errorRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func waitContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

type localEndpoint struct {
	*rmi.Endpoint
	// routerSide is the interface the router holds for this endpoint
	routerSide *local.Interface
	logger     *recordingLogger
	errs       *errorRecorder
}

// attach connects a new endpoint to router over a fresh pipe without waiting
// for registration.
func attach(t *testing.T, router *rmi.Router, svc rmi.Service) *localEndpoint {
	a, b := local.Pipe()
	t.Cleanup(func() { a.Close() })

	if router != nil {
		router.AddInterface(b)
	}

	logger := newRecordingLogger()
	errs := newErrorRecorder()
	e := rmi.NewEndpoint(rmi.EndpointConfig{
		Interface:  a,
		Service:    svc,
		ErrHandler: errs.handle,
		Logger:     logger,
	})
	return &localEndpoint{
		Endpoint:   e,
		routerSide: b,
		logger:     logger,
		errs:       errs,
	}
}

// connect attaches a new endpoint and waits until it is registered.
func connect(t *testing.T, router *rmi.Router, svc rmi.Service) *localEndpoint {
	e := attach(t, router, svc)
	require.NoError(t, e.WaitRegistered(waitContext(t)))
	return e
}

func add(ctx context.Context, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: add takes 2 arguments", rmi.ErrInvalidArguments)
	}
	a, err := rmi.As[int](args[0])
	if err != nil {
		return nil, err
	}
	b, err := rmi.As[int](args[1])
	if err != nil {
		return nil, err
	}
	return a + b, nil
}
