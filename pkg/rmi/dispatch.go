package rmi

import (
	"context"
	"fmt"

	"github.com/kbirk/rmi/pkg/log"
)

// dispatcher holds what endpoints and the router share: the pending call
// table, the dispatch of inbound messages to a Service, and logging.
type dispatcher struct {
	logger     log.Logger
	errHandler func(error)
	middleware []Middleware
	pending    *pendingCalls
}

func newDispatcher(logger log.Logger, errHandler func(error), middleware []Middleware) *dispatcher {
	return &dispatcher{
		logger:     logger,
		errHandler: errHandler,
		middleware: middleware,
		pending:    newPendingCalls(),
	}
}

func (d *dispatcher) handleError(err error) {
	d.logError("Encountered error: " + err.Error())
	if d.errHandler != nil {
		d.errHandler(err)
	}
}

func (d *dispatcher) logDebug(msg string) {
	if d.logger != nil {
		d.logger.Debug(msg)
	}
}

func (d *dispatcher) logInfo(msg string) {
	if d.logger != nil {
		d.logger.Info(msg)
	}
}

func (d *dispatcher) logWarn(msg string) {
	if d.logger != nil {
		d.logger.Warn(msg)
	}
}

func (d *dispatcher) logError(msg string) {
	if d.logger != nil {
		d.logger.Error(msg)
	}
}

// call sends a Call through send and waits for the matching Return or for ctx
// to be done, whichever happens first.
func (d *dispatcher) call(ctx context.Context, source, target EndpointID, method string, args []any, send func(*Message) error) (any, error) {
	id, ch := d.pending.add()

	msg := &Message{
		DestinationID: target,
		SourceID:      source,
		Payload: &Call{
			CallID: id,
			Method: method,
			Args:   args,
		},
	}

	err := send(msg)
	if err != nil {
		d.pending.remove(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		d.pending.remove(id)
		return nil, ctx.Err()
	}
}

func (d *dispatcher) notify(source, target EndpointID, method string, args []any, send func(*Message) error) error {
	return send(&Message{
		DestinationID: target,
		SourceID:      source,
		Payload: &Notify{
			Method: method,
			Args:   args,
		},
	})
}

// dispatch routes an inbound message addressed to this dispatcher's owner.
// Calls and Notifies run on their own goroutine so a method may block, or
// issue calls of its own, without stalling the receive path.
func (d *dispatcher) dispatch(ctx context.Context, svc Service, msg *Message, reply func(*Message) error) {
	switch p := msg.Payload.(type) {
	case *Call:
		go d.handleCall(ctx, svc, msg, p, reply)
	case *Notify:
		go d.handleNotify(ctx, svc, msg, p)
	case *Return:
		d.handleReturn(msg, p)
	default:
		d.handleError(fmt.Errorf("unrecognized payload %T from %d", msg.Payload, msg.SourceID))
	}
}

func (d *dispatcher) handleCall(ctx context.Context, svc Service, msg *Message, call *Call, reply func(*Message) error) {
	ret := &Return{
		CallID: call.CallID,
	}

	data, err := invoke(ctx, svc, call.Method, call.Args, d.middleware)
	if err != nil {
		d.logDebug(fmt.Sprintf("Call %q from %d failed: %v", call.Method, msg.SourceID, err))
		ret.ErrorCode = errorCode(err)
		ret.Data = err.Error()
	} else {
		ret.Data = data
	}

	err = reply(&Message{
		DestinationID: msg.SourceID,
		SourceID:      msg.DestinationID,
		Payload:       ret,
	})
	if err != nil {
		d.handleError(fmt.Errorf("failed to return call %d to %d: %w", call.CallID, msg.SourceID, err))
	}
}

// handleNotify only logs failures, a Notify has nobody to report to.
func (d *dispatcher) handleNotify(ctx context.Context, svc Service, msg *Message, notify *Notify) {
	_, err := invoke(ctx, svc, notify.Method, notify.Args, d.middleware)
	if err != nil {
		d.logWarn(fmt.Sprintf("Notify %q from %d failed: %v", notify.Method, msg.SourceID, err))
	}
}

func (d *dispatcher) handleReturn(msg *Message, ret *Return) {
	if d.pending.complete(ret) {
		return
	}
	if d.pending.wasAbandoned(ret.CallID) {
		d.logDebug(fmt.Sprintf("Dropping late return for abandoned call %d from %d", ret.CallID, msg.SourceID))
		return
	}
	d.logWarn(fmt.Sprintf("%v: no pending call %d for return from %d", ErrInvalidReturnData, ret.CallID, msg.SourceID))
}

// invoke resolves name on svc and runs it through middleware, converting a
// panic into an error.
func invoke(ctx context.Context, svc Service, name string, args []any, middleware []Middleware) (data any, err error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: no service bound", ErrInvalidService)
	}
	method, ok := svc.Method(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidServiceMethod, name)
	}

	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("method %q panicked: %v", name, x)
		}
	}()

	return buildMethodChain(middleware, name, method)(ctx, args)
}
