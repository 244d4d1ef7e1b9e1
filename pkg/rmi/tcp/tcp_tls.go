package tcp

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/kbirk/rmi/pkg/rmi"
)

// ServerTransportTLS implements rmi.ServerTransport for TCP with TLS
type ServerTransportTLS struct {
	Port               int
	NoDelay            bool
	CertFile           string
	KeyFile            string
	TLSConfig          *tls.Config
	MaxSendMessageSize uint32
	MaxRecvMessageSize uint32
	listener           net.Listener
	connCh             chan rmi.Connection
	mu                 sync.Mutex
	closed             bool
}

type ServerTransportTLSConfig struct {
	Port               int
	NoDelay            bool        // Disable Nagle's algorithm
	CertFile           string      // Server certificate file (PEM)
	KeyFile            string      // Server private key file (PEM)
	TLSConfig          *tls.Config // Optional: used instead of CertFile/KeyFile
	MaxSendMessageSize uint32      // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32      // Maximum receive message size in bytes (0 for no limit)
}

func NewServerTransportTLS(config ServerTransportTLSConfig) *ServerTransportTLS {
	return &ServerTransportTLS{
		Port:               config.Port,
		NoDelay:            config.NoDelay,
		CertFile:           config.CertFile,
		KeyFile:            config.KeyFile,
		TLSConfig:          config.TLSConfig,
		MaxSendMessageSize: config.MaxSendMessageSize,
		MaxRecvMessageSize: config.MaxRecvMessageSize,
		connCh:             make(chan rmi.Connection, 16),
	}
}

func (t *ServerTransportTLS) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return fmt.Errorf("transport is already listening")
	}

	tlsConfig := t.TLSConfig
	if tlsConfig == nil {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load certificate: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	l, err := tls.Listen("tcp", fmt.Sprintf(":%d", t.Port), tlsConfig)
	if err != nil {
		return err
	}
	t.listener = l

	go acceptLoop(l, &t.mu, &t.closed, t.connCh, func(conn net.Conn) rmi.Connection {
		// Set TCP_NODELAY option on the underlying TCP connection
		if tlsConn, ok := conn.(*tls.Conn); ok {
			setNoDelay(tlsConn.NetConn(), t.NoDelay)
		}
		return NewConnection(conn, t.MaxSendMessageSize, t.MaxRecvMessageSize)
	})

	return nil
}

// Addr returns the bound address once listening.
func (t *ServerTransportTLS) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *ServerTransportTLS) Accept() (rmi.Connection, error) {
	conn, ok := <-t.connCh
	if !ok {
		return nil, rmi.ErrTransportClosed
	}
	return conn, nil
}

func (t *ServerTransportTLS) Close() error {
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

// ClientTransportTLS implements rmi.ClientTransport for TCP with TLS
type ClientTransportTLS struct {
	Host               string
	Port               int
	NoDelay            bool
	InsecureSkipVerify bool
	CAFile             string
	RootCAs            *x509.CertPool
	MaxSendMessageSize uint32
	MaxRecvMessageSize uint32
}

type ClientTransportTLSConfig struct {
	Host               string
	Port               int
	NoDelay            bool           // Disable Nagle's algorithm
	InsecureSkipVerify bool           // Skip certificate verification (for testing)
	CAFile             string         // Optional CA certificate file for verification
	RootCAs            *x509.CertPool // Optional: used instead of CAFile
	MaxSendMessageSize uint32         // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32         // Maximum receive message size in bytes (0 for no limit)
}

func NewClientTransportTLS(config ClientTransportTLSConfig) *ClientTransportTLS {
	return &ClientTransportTLS{
		Host:               config.Host,
		Port:               config.Port,
		NoDelay:            config.NoDelay,
		InsecureSkipVerify: config.InsecureSkipVerify,
		CAFile:             config.CAFile,
		RootCAs:            config.RootCAs,
		MaxSendMessageSize: config.MaxSendMessageSize,
		MaxRecvMessageSize: config.MaxRecvMessageSize,
	}
}

func (t *ClientTransportTLS) Connect() (rmi.Connection, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: t.InsecureSkipVerify,
		RootCAs:            t.RootCAs,
		MinVersion:         tls.VersionTLS12,
	}

	// Load CA certificate if provided
	if t.RootCAs == nil && t.CAFile != "" {
		caCert, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	conn, err := tls.Dial("tcp", net.JoinHostPort(t.Host, strconv.Itoa(t.Port)), tlsConfig)
	if err != nil {
		return nil, err
	}

	// Set TCP_NODELAY option on the underlying TCP connection
	setNoDelay(conn.NetConn(), t.NoDelay)

	return NewConnection(conn, t.MaxSendMessageSize, t.MaxRecvMessageSize), nil
}
