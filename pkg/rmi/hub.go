package rmi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kbirk/rmi/pkg/log"
)

type HubConfig struct {
	Router     *Router
	Transport  ServerTransport
	Codec      Codec
	ErrHandler func(error)
	Logger     log.Logger
}

// Hub accepts connections from a ServerTransport and attaches each one to the
// router as a new interface.
type Hub struct {
	conf    HubConfig
	mu      *sync.Mutex
	conns   map[uuid.UUID]*ConnInterface
	running bool
}

func NewHub(conf HubConfig) *Hub {
	if conf.Router == nil {
		panic("hub requires a router")
	}
	if conf.Transport == nil {
		panic("hub requires a transport")
	}
	return &Hub{
		conf:  conf,
		mu:    &sync.Mutex{},
		conns: make(map[uuid.UUID]*ConnInterface),
	}
}

func (h *Hub) handleError(err error) {
	h.logError("Encountered error: " + err.Error())
	if h.conf.ErrHandler != nil {
		h.conf.ErrHandler(err)
	}
}

func (h *Hub) logDebug(msg string) {
	if h.conf.Logger != nil {
		h.conf.Logger.Debug(msg)
	}
}

func (h *Hub) logInfo(msg string) {
	if h.conf.Logger != nil {
		h.conf.Logger.Info(msg)
	}
}

func (h *Hub) logError(msg string) {
	if h.conf.Logger != nil {
		h.conf.Logger.Error(msg)
	}
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) ListenAndServe() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("hub is already running")
	}
	h.running = true
	h.mu.Unlock()

	h.logInfo("Starting hub")

	err := h.conf.Transport.Listen()
	if err != nil {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		return err
	}

	for {
		h.mu.Lock()
		running := h.running
		h.mu.Unlock()

		if !running {
			break
		}

		conn, err := h.conf.Transport.Accept()
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				break
			}
			h.handleError(err)
			continue
		}

		h.attach(conn)
	}

	return nil
}

func (h *Hub) attach(conn Connection) {
	ci := NewConnInterface(conn, ConnInterfaceConfig{
		Codec:      h.conf.Codec,
		ErrHandler: h.conf.ErrHandler,
		Logger:     h.conf.Logger,
	})

	h.mu.Lock()
	h.conns[ci.ID()] = ci
	h.mu.Unlock()

	h.logDebug(fmt.Sprintf("Accepted %v", ci))

	go func() {
		<-ci.Done()
		h.mu.Lock()
		delete(h.conns, ci.ID())
		h.mu.Unlock()
		h.logDebug(fmt.Sprintf("Closed %v", ci))
	}()

	h.conf.Router.AddInterface(ci)
}

// Shutdown stops accepting and closes every open connection. Routes through
// closed connections stay in the router's table.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.running = false
	conns := make([]*ConnInterface, 0, len(h.conns))
	for _, ci := range h.conns {
		conns = append(conns, ci)
	}
	h.mu.Unlock()

	err := h.conf.Transport.Close()

	for _, ci := range conns {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		ci.Close()
	}

	return err
}

// Dial connects through transport and wraps the connection for an endpoint.
func Dial(transport ClientTransport, conf ConnInterfaceConfig) (*ConnInterface, error) {
	conn, err := transport.Connect()
	if err != nil {
		return nil, err
	}
	return NewConnInterface(conn, conf), nil
}
