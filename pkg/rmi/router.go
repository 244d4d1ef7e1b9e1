package rmi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kbirk/rmi/pkg/log"
)

type RouterConfig struct {
	ErrHandler func(error)
	Logger     log.Logger
	// Middleware runs around the router's own methods, built-ins included
	Middleware []Middleware
}

// EndpointRegisteredListener is notified when an endpoint confirms its
// registration. Listeners are compared by identity.
type EndpointRegisteredListener struct {
	fn func(Interface, EndpointID)
}

func NewEndpointRegisteredListener(fn func(iface Interface, id EndpointID)) *EndpointRegisteredListener {
	return &EndpointRegisteredListener{fn: fn}
}

// Router is the endpoint at RouterID. It assigns durable ids, forwards
// messages between endpoints that do not share an interface and serves its
// own methods.
type Router struct {
	conf      RouterConfig
	d         *dispatcher
	mu        *sync.Mutex
	routes    map[EndpointID]Interface
	nextID    EndpointID
	listeners []*EndpointRegisteredListener
	methods   Methods
	builtins  map[string]struct{}
}

func NewRouter(conf RouterConfig) *Router {
	r := &Router{
		conf:   conf,
		d:      newDispatcher(conf.Logger, conf.ErrHandler, conf.Middleware),
		mu:     &sync.Mutex{},
		routes: make(map[EndpointID]Interface),
		nextID: 1,
	}
	r.methods = Methods{
		methodRegisterEndpoint:      r.registerEndpoint,
		methodRegistrationConfirmed: r.registrationConfirmed,
	}
	r.builtins = map[string]struct{}{
		methodRegisterEndpoint:      {},
		methodRegistrationConfirmed: {},
	}
	return r
}

// AddInterface starts routing through iface.
func (r *Router) AddInterface(iface Interface) {
	iface.RegisterReceiver(TagRMI, r.receive)
}

// Handle exposes an additional method on the router itself.
func (r *Router) Handle(name string, method Method) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.builtins[name]; ok {
		panic(fmt.Sprintf("router method %q is built in", name))
	}
	if _, ok := r.methods[name]; ok {
		panic(fmt.Sprintf("router method %q already registered", name))
	}
	r.methods[name] = method
}

// Method implements Service over the router's own surface.
func (r *Router) Method(name string) (Method, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.methods.Method(name)
}

// AddEndpointRegisteredListener is a no-op for a listener already added.
func (r *Router) AddEndpointRegisteredListener(l *EndpointRegisteredListener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.listeners {
		if existing == l {
			return
		}
	}
	r.listeners = append(r.listeners, l)
}

// RemoveEndpointRegisteredListener is a no-op for a listener never added.
func (r *Router) RemoveEndpointRegisteredListener(l *EndpointRegisteredListener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Lookup returns the interface id is reachable through.
func (r *Router) Lookup(id EndpointID) (Interface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iface, ok := r.routes[id]
	return iface, ok
}

// Routes returns the ids currently in the routing table in ascending order.
func (r *Router) Routes() []EndpointID {
	r.mu.Lock()
	ids := make([]EndpointID, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PendingCalls returns the number of router-originated Calls still waiting.
func (r *Router) PendingCalls() int {
	return r.d.pending.len()
}

// Call invokes method on a registered endpoint.
func (r *Router) Call(ctx context.Context, target EndpointID, method string, args ...any) (any, error) {
	return r.d.call(ctx, RouterID, target, method, args, r.route)
}

// Notify invokes method on a registered endpoint without waiting.
func (r *Router) Notify(target EndpointID, method string, args ...any) error {
	return r.d.notify(RouterID, target, method, args, r.route)
}

func (r *Router) registerEndpoint(ctx context.Context, args []any) (any, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return nil, errors.New("registration requires a caller")
	}

	r.mu.Lock()
	if r.nextID >= ProvisionalIDMin {
		r.mu.Unlock()
		return nil, fmt.Errorf("durable endpoint ids exhausted")
	}
	id := r.nextID
	r.nextID++
	r.routes[id] = caller.Interface
	// the Return still has to reach the caller under its provisional id
	if IsProvisional(caller.SourceID) {
		r.routes[caller.SourceID] = caller.Interface
	}
	r.mu.Unlock()

	r.d.logInfo(fmt.Sprintf("Assigned id %d to endpoint %d", id, caller.SourceID))

	return id, nil
}

func (r *Router) registrationConfirmed(ctx context.Context, args []any) (any, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return nil, errors.New("registration confirmation requires a caller")
	}

	r.mu.Lock()
	listeners := append([]*EndpointRegisteredListener(nil), r.listeners...)
	r.mu.Unlock()

	r.d.logDebug(fmt.Sprintf("Endpoint %d confirmed registration", caller.SourceID))

	for _, l := range listeners {
		l.fn(caller.Interface, caller.SourceID)
	}
	return nil, nil
}

func (r *Router) receive(iface Interface, msg *Message) {
	if msg.DestinationID == RouterID {
		ctx := NewContextWithCaller(context.Background(), Caller{
			Interface: iface,
			SourceID:  msg.SourceID,
		})
		r.d.dispatch(ctx, r, msg, r.route)
		return
	}

	err := r.route(msg)
	if err == nil {
		return
	}
	if errors.Is(err, ErrUnroutable) && msg.Kind() == KindNotify {
		r.d.logWarn(fmt.Sprintf("Dropping %v: %v", msg, err))
		return
	}
	r.d.handleError(err)
}

// route forwards msg unchanged on the interface its destination maps to. A
// provisional destination is removed from the table once used.
func (r *Router) route(msg *Message) error {
	r.mu.Lock()
	iface, ok := r.routes[msg.DestinationID]
	if ok && IsProvisional(msg.DestinationID) {
		delete(r.routes, msg.DestinationID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w %d: cannot route %v", ErrUnroutable, msg.DestinationID, msg)
	}

	err := iface.Send(TagRMI, msg)
	if err != nil {
		return fmt.Errorf("failed to forward %v: %w", msg, err)
	}
	return nil
}
