package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/kbirk/rmi/pkg/rmi"
)

// setNoDelay sets the TCP_NODELAY option on a TCP connection
func setNoDelay(conn net.Conn, noDelay bool) error {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		return tcpConn.SetNoDelay(noDelay)
	}
	return nil
}

// Connection frames messages over any stream-oriented net.Conn with a 4 byte
// big endian length header.
type Connection struct {
	conn               net.Conn
	mu                 sync.Mutex
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
}

// NewConnection wraps conn. A zero limit disables the corresponding size check.
func NewConnection(conn net.Conn, maxSendMessageSize uint32, maxRecvMessageSize uint32) *Connection {
	return &Connection{
		conn:               conn,
		maxSendMessageSize: maxSendMessageSize,
		maxRecvMessageSize: maxRecvMessageSize,
	}
}

func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	length := uint32(len(data))
	if c.maxSendMessageSize > 0 && length > c.maxSendMessageSize {
		return fmt.Errorf("message size %d exceeds send limit %d", length, c.maxSendMessageSize)
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, length)
	copy(frame[4:], data)

	if _, err := c.conn.Write(frame); err != nil {
		return err
	}
	return nil
}

func (c *Connection) Receive() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, convertReadError(err)
	}
	length := binary.BigEndian.Uint32(header)

	if c.maxRecvMessageSize > 0 && length > c.maxRecvMessageSize {
		return nil, fmt.Errorf("message size %d exceeds receive limit %d", length, c.maxRecvMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, convertReadError(err)
	}
	return data, nil
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

func convertReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return rmi.ErrConnectionClosed
	}
	return err
}

// ServerTransport implements rmi.ServerTransport for TCP
type ServerTransport struct {
	Port               int
	NoDelay            bool
	MaxSendMessageSize uint32
	MaxRecvMessageSize uint32
	listener           net.Listener
	connCh             chan rmi.Connection
	mu                 sync.Mutex
	closed             bool
}

type ServerTransportConfig struct {
	Port               int    // 0 picks a free port, see Addr
	NoDelay            bool   // Disable Nagle's algorithm for better latency
	MaxSendMessageSize uint32 // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32 // Maximum receive message size in bytes (0 for no limit)
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	return &ServerTransport{
		Port:               config.Port,
		NoDelay:            config.NoDelay,
		MaxSendMessageSize: config.MaxSendMessageSize,
		MaxRecvMessageSize: config.MaxRecvMessageSize,
		connCh:             make(chan rmi.Connection, 16),
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return fmt.Errorf("transport is already listening")
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", t.Port))
	if err != nil {
		return err
	}
	t.listener = l

	go acceptLoop(l, &t.mu, &t.closed, t.connCh, func(conn net.Conn) rmi.Connection {
		if err := setNoDelay(conn, t.NoDelay); err != nil {
			conn.Close()
			return nil
		}
		return NewConnection(conn, t.MaxSendMessageSize, t.MaxRecvMessageSize)
	})

	return nil
}

// Addr returns the bound address once listening.
func (t *ServerTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func acceptLoop(l net.Listener, mu *sync.Mutex, closed *bool, connCh chan rmi.Connection, wrap func(net.Conn) rmi.Connection) {
	for {
		conn, err := l.Accept()
		if err != nil {
			// Check if closed
			mu.Lock()
			if *closed {
				mu.Unlock()
				return
			}
			mu.Unlock()
			continue
		}

		c := wrap(conn)
		if c == nil {
			continue
		}

		mu.Lock()
		if !*closed {
			select {
			case connCh <- c:
			default:
				conn.Close()
			}
		} else {
			conn.Close()
		}
		mu.Unlock()
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
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	close(t.connCh)

	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

// ClientTransport implements rmi.ClientTransport for TCP
type ClientTransport struct {
	Host               string
	Port               int
	NoDelay            bool
	MaxSendMessageSize uint32
	MaxRecvMessageSize uint32
}

type ClientTransportConfig struct {
	Host               string
	Port               int
	NoDelay            bool   // Disable Nagle's algorithm for better latency
	MaxSendMessageSize uint32 // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32 // Maximum receive message size in bytes (0 for no limit)
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	return &ClientTransport{
		Host:               config.Host,
		Port:               config.Port,
		NoDelay:            config.NoDelay,
		MaxSendMessageSize: config.MaxSendMessageSize,
		MaxRecvMessageSize: config.MaxRecvMessageSize,
	}
}

func (t *ClientTransport) Connect() (rmi.Connection, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
	if err != nil {
		return nil, err
	}

	// Set TCP_NODELAY option
	if err := setNoDelay(conn, t.NoDelay); err != nil {
		conn.Close()
		return nil, err
	}

	return NewConnection(conn, t.MaxSendMessageSize, t.MaxRecvMessageSize), nil
}
