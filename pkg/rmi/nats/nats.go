package nats

import (
	"fmt"
	"sync"

	"github.com/kbirk/rmi/pkg/rmi"
	"github.com/nats-io/nats.go"
)

const DefaultSubject = "rmi.router"

// ServerTransport implements rmi.ServerTransport over NATS. Clients publish to
// Subject with their private inbox as reply subject; each distinct inbox
// becomes one connection and the server answers by publishing to it.
type ServerTransport struct {
	URL                string
	Subject            string
	MaxSendMessageSize uint32
	MaxRecvMessageSize uint32
	nc                 *nats.Conn
	sub                *nats.Subscription
	connCh             chan rmi.Connection
	mu                 *sync.Mutex
	closed             bool
	conns              map[string]*natsServerConnection
}

type ServerTransportConfig struct {
	URL                string
	Subject            string // Optional: defaults to DefaultSubject
	MaxSendMessageSize uint32 // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32 // Maximum receive message size in bytes (0 for no limit)
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	subject := config.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &ServerTransport{
		URL:                config.URL,
		Subject:            subject,
		MaxSendMessageSize: config.MaxSendMessageSize,
		MaxRecvMessageSize: config.MaxRecvMessageSize,
		connCh:             make(chan rmi.Connection, 100),
		mu:                 &sync.Mutex{},
		conns:              make(map[string]*natsServerConnection),
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc != nil {
		return fmt.Errorf("transport is already listening")
	}

	nc, err := nats.Connect(t.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(t.Subject, t.handleMsg)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to subject %s: %w", t.Subject, err)
	}

	t.nc = nc
	t.sub = sub
	return nil
}

func (t *ServerTransport) handleMsg(msg *nats.Msg) {
	if msg.Reply == "" {
		// nowhere to answer
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	conn, ok := t.conns[msg.Reply]
	if !ok {
		conn = &natsServerConnection{
			nc:                 t.nc,
			replyTo:            msg.Reply,
			maxSendMessageSize: t.MaxSendMessageSize,
			maxRecvMessageSize: t.MaxRecvMessageSize,
			inbox:              make(chan []byte, 100),
			closed:             make(chan struct{}),
			mu:                 &sync.Mutex{},
		}

		select {
		case t.connCh <- conn:
		default:
			t.mu.Unlock()
			return
		}
		t.conns[msg.Reply] = conn

		// Clean up when connection closes
		go func(inbox string) {
			<-conn.closed
			t.mu.Lock()
			delete(t.conns, inbox)
			t.mu.Unlock()
		}(msg.Reply)
	}
	t.mu.Unlock()

	select {
	case conn.inbox <- msg.Data:
	case <-conn.closed:
		// Connection closed, drop message
	}
}

func (t *ServerTransport) Accept() (rmi.Connection, error) {
	conn, ok := <-t.connCh
	if !ok {
		return nil, rmi.ErrTransportClosed
	}
	return conn, nil
}

func (t *ServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.connCh)

	conns := make([]*natsServerConnection, 0, len(t.conns))
	for _, conn := range t.conns {
		conns = append(conns, conn)
	}
	sub, nc := t.sub, t.nc
	t.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	if nc != nil {
		nc.Close()
	}
	return err
}

type natsServerConnection struct {
	nc                 *nats.Conn
	replyTo            string
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
	inbox              chan []byte
	closed             chan struct{}
	mu                 *sync.Mutex
	alreadyClosed      bool
}

func (c *natsServerConnection) Send(data []byte) error {
	if c.maxSendMessageSize > 0 && uint32(len(data)) > c.maxSendMessageSize {
		return fmt.Errorf("message size %d exceeds send limit %d", len(data), c.maxSendMessageSize)
	}
	return c.nc.Publish(c.replyTo, data)
}

func (c *natsServerConnection) Receive() ([]byte, error) {
	select {
	case data := <-c.inbox:
		if c.maxRecvMessageSize > 0 && uint32(len(data)) > c.maxRecvMessageSize {
			return nil, fmt.Errorf("message size %d exceeds receive limit %d", len(data), c.maxRecvMessageSize)
		}
		return data, nil
	case <-c.closed:
		return nil, rmi.ErrConnectionClosed
	}
}

func (c *natsServerConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.alreadyClosed {
		return nil
	}
	c.alreadyClosed = true
	close(c.closed)
	return nil
}

// ClientTransport implements rmi.ClientTransport over NATS
type ClientTransport struct {
	URL                string
	Subject            string
	MaxSendMessageSize uint32
	MaxRecvMessageSize uint32
	nc                 *nats.Conn
	mu                 *sync.Mutex
}

type ClientTransportConfig struct {
	URL                string
	Subject            string // Optional: defaults to DefaultSubject
	MaxSendMessageSize uint32 // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32 // Maximum receive message size in bytes (0 for no limit)
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	subject := config.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &ClientTransport{
		URL:                config.URL,
		Subject:            subject,
		MaxSendMessageSize: config.MaxSendMessageSize,
		MaxRecvMessageSize: config.MaxRecvMessageSize,
		mu:                 &sync.Mutex{},
	}
}

func (t *ClientTransport) Connect() (rmi.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc == nil {
		nc, err := nats.Connect(t.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		t.nc = nc
	}

	// Create inbox and subscription for this connection
	inbox := nats.NewInbox()
	responseCh := make(chan []byte, 100)
	closed := make(chan struct{})

	sub, err := t.nc.Subscribe(inbox, func(msg *nats.Msg) {
		select {
		case responseCh <- msg.Data:
		case <-closed:
			// Connection closed, discard message
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to inbox: %w", err)
	}

	return &natsClientConnection{
		nc:                 t.nc,
		subject:            t.Subject,
		inbox:              inbox,
		sub:                sub,
		responseCh:         responseCh,
		closed:             closed,
		closeOnce:          &sync.Once{},
		maxSendMessageSize: t.MaxSendMessageSize,
		maxRecvMessageSize: t.MaxRecvMessageSize,
	}, nil
}

// natsClientConnection implements rmi.Connection for NATS
type natsClientConnection struct {
	nc                 *nats.Conn
	subject            string
	inbox              string
	sub                *nats.Subscription
	responseCh         chan []byte
	closed             chan struct{}
	closeOnce          *sync.Once
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
}

func (c *natsClientConnection) Send(data []byte) error {
	if c.maxSendMessageSize > 0 && uint32(len(data)) > c.maxSendMessageSize {
		return fmt.Errorf("message size %d exceeds send limit %d", len(data), c.maxSendMessageSize)
	}

	return c.nc.PublishMsg(&nats.Msg{
		Subject: c.subject,
		Reply:   c.inbox,
		Data:    data,
	})
}

func (c *natsClientConnection) Receive() ([]byte, error) {
	select {
	case data := <-c.responseCh:
		if c.maxRecvMessageSize > 0 && uint32(len(data)) > c.maxRecvMessageSize {
			return nil, fmt.Errorf("message size %d exceeds receive limit %d", len(data), c.maxRecvMessageSize)
		}
		return data, nil
	case <-c.closed:
		return nil, rmi.ErrConnectionClosed
	}
}

func (c *natsClientConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// Signal closed first to prevent sends to responseCh
		close(c.closed)
		err = c.sub.Unsubscribe()
	})
	return err
}
