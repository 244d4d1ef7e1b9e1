package rmi

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/kbirk/rmi/pkg/log"
)

const (
	methodRegisterEndpoint      = "registerRmiEndpoint"
	methodRegistrationConfirmed = "endpointRegistrationConfirmed"
)

type EndpointConfig struct {
	Interface  Interface
	Service    Service
	ErrHandler func(error)
	Logger     log.Logger
	// Middleware runs around every inbound Call and Notify, first to last
	Middleware []Middleware
	// ProvisionalID overrides the randomly chosen registration id. It must lie
	// in [ProvisionalIDMin, ProvisionalIDMax].
	ProvisionalID EndpointID
}

// Endpoint owns one side of a conversation with the router. It registers
// itself on construction, then issues Calls and Notifies to other endpoints
// and serves inbound ones from its bound Service.
type Endpoint struct {
	conf        EndpointConfig
	iface       Interface
	d           *dispatcher
	mu          *sync.Mutex
	id          EndpointID
	initialized bool
	registered  chan struct{}
}

func randomProvisionalID() EndpointID {
	return ProvisionalIDMin + EndpointID(rand.Int63n(int64(ProvisionalIDMax-ProvisionalIDMin)+1))
}

// NewEndpoint binds an endpoint to conf.Interface and starts the registration
// handshake with the router.
func NewEndpoint(conf EndpointConfig) *Endpoint {
	if conf.Interface == nil {
		panic("endpoint requires an interface")
	}

	id := conf.ProvisionalID
	if id == 0 {
		id = randomProvisionalID()
	} else if id > ProvisionalIDMax || !IsProvisional(id) {
		panic(fmt.Sprintf("provisional id %d outside of [%d, %d]", id, ProvisionalIDMin, ProvisionalIDMax))
	}

	e := &Endpoint{
		conf:       conf,
		iface:      conf.Interface,
		d:          newDispatcher(conf.Logger, conf.ErrHandler, conf.Middleware),
		mu:         &sync.Mutex{},
		id:         id,
		registered: make(chan struct{}),
	}

	e.iface.RegisterReceiver(TagRMI, e.receive)

	go e.register()

	return e
}

// ID returns the provisional id until registration completes and the durable
// id afterwards.
func (e *Endpoint) ID() EndpointID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

func (e *Endpoint) IsRegistered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Registered is closed once the endpoint holds its durable id.
func (e *Endpoint) Registered() <-chan struct{} {
	return e.registered
}

// WaitRegistered blocks until registration completes. It only fails if ctx is
// done first.
func (e *Endpoint) WaitRegistered(ctx context.Context) error {
	select {
	case <-e.registered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingCalls returns the number of Calls still waiting for their Return.
func (e *Endpoint) PendingCalls() int {
	return e.d.pending.len()
}

func (e *Endpoint) source(target EndpointID) (EndpointID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized && target != RouterID {
		return 0, fmt.Errorf("%w: cannot reach %d before registration", ErrNotRegistered, target)
	}
	return e.id, nil
}

func (e *Endpoint) send(msg *Message) error {
	return e.iface.Send(TagRMI, msg)
}

// Call invokes method on target and waits for its result. Before registration
// only the router may be called; any other target fails immediately with
// ErrNotRegistered. A failure on the remote side is returned as *RemoteError.
func (e *Endpoint) Call(ctx context.Context, target EndpointID, method string, args ...any) (any, error) {
	source, err := e.source(target)
	if err != nil {
		return nil, err
	}
	return e.d.call(ctx, source, target, method, args, e.send)
}

// Notify invokes method on target without waiting for, or ever receiving, a
// result.
func (e *Endpoint) Notify(target EndpointID, method string, args ...any) error {
	source, err := e.source(target)
	if err != nil {
		return err
	}
	return e.d.notify(source, target, method, args, e.send)
}

func (e *Endpoint) register() {
	provisional := e.ID()

	e.d.logDebug(fmt.Sprintf("Registering endpoint %d", provisional))

	res, err := e.d.call(context.Background(), provisional, RouterID, methodRegisterEndpoint, nil, e.send)
	if err != nil {
		e.d.handleError(fmt.Errorf("registration of endpoint %d failed: %w", provisional, err))
		return
	}

	id, err := As[EndpointID](res)
	if err != nil {
		e.d.handleError(fmt.Errorf("registration of endpoint %d returned %v: %w", provisional, res, err))
		return
	}

	e.mu.Lock()
	e.id = id
	e.initialized = true
	close(e.registered)
	e.mu.Unlock()

	e.d.logInfo(fmt.Sprintf("Endpoint %d registered as %d", provisional, id))

	err = e.Notify(RouterID, methodRegistrationConfirmed)
	if err != nil {
		e.d.handleError(fmt.Errorf("failed to confirm registration of endpoint %d: %w", id, err))
	}
}

// receive drops messages addressed to any id other than the current one, such
// as traffic for the provisional id arriving after the switch.
func (e *Endpoint) receive(iface Interface, msg *Message) {
	id := e.ID()
	if msg.DestinationID != id {
		e.d.logDebug(fmt.Sprintf("Endpoint %d dropping %v", id, msg))
		return
	}

	ctx := NewContextWithCaller(context.Background(), Caller{
		Interface: iface,
		SourceID:  msg.SourceID,
	})
	e.d.dispatch(ctx, e.conf.Service, msg, e.send)
}
