package rmi_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kbirk/rmi/pkg/rmi"
	"github.com/kbirk/rmi/pkg/rmi/tcp"
	"github.com/kbirk/rmi/pkg/rmi/unix"
	"github.com/kbirk/rmi/pkg/rmi/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transportFactory creates the transports one hub test runs over. client is
// only called once ready reports true.
type transportFactory struct {
	name   string
	server func(t *testing.T) rmi.ServerTransport
	ready  func(rmi.ServerTransport) bool
	client func(rmi.ServerTransport) rmi.ClientTransport
}

type addrTransport interface {
	Addr() net.Addr
}

func hasAddr(s rmi.ServerTransport) bool {
	return s.(addrTransport).Addr() != nil
}

func portOf(s rmi.ServerTransport) int {
	return s.(addrTransport).Addr().(*net.TCPAddr).Port
}

func tcpFactory() transportFactory {
	return transportFactory{
		name: "tcp",
		server: func(t *testing.T) rmi.ServerTransport {
			return tcp.NewServerTransport(tcp.ServerTransportConfig{NoDelay: true})
		},
		ready: hasAddr,
		client: func(s rmi.ServerTransport) rmi.ClientTransport {
			return tcp.NewClientTransport(tcp.ClientTransportConfig{
				Host:    "localhost",
				Port:    portOf(s),
				NoDelay: true,
			})
		},
	}
}

func tlsFactory(t *testing.T) transportFactory {
	serverConf, pool := selfSignedTLS(t)
	return transportFactory{
		name: "tls",
		server: func(t *testing.T) rmi.ServerTransport {
			return tcp.NewServerTransportTLS(tcp.ServerTransportTLSConfig{TLSConfig: serverConf})
		},
		ready: hasAddr,
		client: func(s rmi.ServerTransport) rmi.ClientTransport {
			return tcp.NewClientTransportTLS(tcp.ClientTransportTLSConfig{
				Host:    "localhost",
				Port:    portOf(s),
				RootCAs: pool,
			})
		},
	}
}

func unixFactory() transportFactory {
	return transportFactory{
		name: "unix",
		server: func(t *testing.T) rmi.ServerTransport {
			return unix.NewServerTransport(unix.ServerTransportConfig{
				SocketPath: filepath.Join(t.TempDir(), "rmi.sock"),
			})
		},
		ready: func(s rmi.ServerTransport) bool {
			_, err := os.Stat(s.(*unix.ServerTransport).SocketPath)
			return err == nil
		},
		client: func(s rmi.ServerTransport) rmi.ClientTransport {
			return unix.NewClientTransport(unix.ClientTransportConfig{
				SocketPath: s.(*unix.ServerTransport).SocketPath,
			})
		},
	}
}

func websocketFactory() transportFactory {
	return transportFactory{
		name: "websocket",
		server: func(t *testing.T) rmi.ServerTransport {
			return websocket.NewServerTransport(websocket.ServerTransportConfig{})
		},
		ready: hasAddr,
		client: func(s rmi.ServerTransport) rmi.ClientTransport {
			return websocket.NewClientTransport(websocket.ClientTransportConfig{
				Host: "localhost",
				Port: portOf(s),
			})
		},
	}
}

func TestHub(t *testing.T) {
	factories := []transportFactory{
		tcpFactory(),
		tlsFactory(t),
		unixFactory(),
		websocketFactory(),
	}
	for _, f := range factories {
		t.Run(f.name, func(t *testing.T) {
			runHubSuite(t, f)
		})
	}
}

// runHubSuite runs every hub test over the transports f creates.
func runHubSuite(t *testing.T, f transportFactory) {
	t.Run("CallAcrossConnections", func(t *testing.T) {
		runCallAcrossConnectionsTest(t, f)
	})
	t.Run("NotifyAcrossConnections", func(t *testing.T) {
		runNotifyAcrossConnectionsTest(t, f)
	})
	t.Run("LargePayload", func(t *testing.T) {
		runLargePayloadTest(t, f)
	})
	t.Run("Shutdown", func(t *testing.T) {
		runShutdownTest(t, f)
	})
}

type hubFixture struct {
	router    *rmi.Router
	hub       *rmi.Hub
	transport rmi.ServerTransport
	factory   transportFactory
	served    chan error
}

func startHub(t *testing.T, f transportFactory) *hubFixture {
	router := rmi.NewRouter(rmi.RouterConfig{})
	transport := f.server(t)
	hub := rmi.NewHub(rmi.HubConfig{
		Router:    router,
		Transport: transport,
	})

	fx := &hubFixture{
		router:    router,
		hub:       hub,
		transport: transport,
		factory:   f,
		served:    make(chan error, 1),
	}
	go func() {
		fx.served <- hub.ListenAndServe()
	}()
	require.Eventually(t, func() bool {
		return f.ready(transport)
	}, waitTimeout, time.Millisecond)

	t.Cleanup(func() {
		hub.Shutdown(context.Background())
	})
	return fx
}

func (fx *hubFixture) dial(t *testing.T, svc rmi.Service) (*rmi.Endpoint, *rmi.ConnInterface) {
	ci, err := rmi.Dial(fx.factory.client(fx.transport), rmi.ConnInterfaceConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { ci.Close() })

	e := rmi.NewEndpoint(rmi.EndpointConfig{Interface: ci, Service: svc})
	require.NoError(t, e.WaitRegistered(waitContext(t)))
	return e, ci
}

type shape struct {
	Name   string    `json:"name"`
	Points []float64 `json:"points"`
}

type geometry struct{}

func (g *geometry) Perimeter(s shape) (float64, error) {
	total := 0.0
	for _, p := range s.Points {
		total += p
	}
	return total, nil
}

func (g *geometry) Scale(s shape, factor float64) shape {
	scaled := shape{Name: s.Name}
	for _, p := range s.Points {
		scaled.Points = append(scaled.Points, p*factor)
	}
	return scaled
}

func (g *geometry) Echo(data string) string {
	return data
}

func runCallAcrossConnectionsTest(t *testing.T, f transportFactory) {
	fx := startHub(t, f)

	server, _ := fx.dial(t, rmi.NewService(&geometry{}))
	client, _ := fx.dial(t, nil)

	assert.Equal(t, rmi.EndpointID(1), server.ID())
	assert.Equal(t, rmi.EndpointID(2), client.ID())
	assert.Equal(t, 2, fx.hub.Connections())

	res, err := client.Call(waitContext(t), server.ID(), "perimeter", shape{Name: "triangle", Points: []float64{3, 4, 5}})
	require.NoError(t, err)
	perimeter, err := rmi.As[float64](res)
	require.NoError(t, err)
	assert.Equal(t, 12.0, perimeter)

	res, err = client.Call(waitContext(t), server.ID(), "scale", shape{Name: "line", Points: []float64{1, 2}}, 2)
	require.NoError(t, err)
	scaled, err := rmi.As[shape](res)
	require.NoError(t, err)
	assert.Equal(t, shape{Name: "line", Points: []float64{2, 4}}, scaled)

	_, err = client.Call(waitContext(t), server.ID(), "rotate")
	assert.ErrorIs(t, err, rmi.ErrInvalidServiceMethod)

	_, err = client.Call(waitContext(t), server.ID(), "perimeter")
	assert.ErrorIs(t, err, rmi.ErrInvalidArguments)
}

func runNotifyAcrossConnectionsTest(t *testing.T, f transportFactory) {
	fx := startHub(t, f)

	received := make(chan string, 1)
	server, _ := fx.dial(t, rmi.Methods{
		"log": func(ctx context.Context, args []any) (any, error) {
			s, err := rmi.As[string](args[0])
			received <- s
			return nil, err
		},
	})
	client, _ := fx.dial(t, nil)

	require.NoError(t, client.Notify(server.ID(), "log", "hello"))

	select {
	case s := <-received:
		assert.Equal(t, "hello", s)
	case <-time.After(waitTimeout):
		t.Fatal("notify was not delivered")
	}
}

func runLargePayloadTest(t *testing.T, f transportFactory) {
	fx := startHub(t, f)

	server, _ := fx.dial(t, rmi.NewService(&geometry{}))
	client, _ := fx.dial(t, nil)

	for _, size := range []int{1024, 100 * 1024, 500 * 1024} {
		data := make([]byte, size)
		for i := range data {
			data[i] = 'a' + byte(i%26)
		}
		res, err := client.Call(waitContext(t), server.ID(), "echo", string(data))
		require.NoError(t, err)
		assert.Equal(t, string(data), res)
	}
}

func runShutdownTest(t *testing.T, f transportFactory) {
	fx := startHub(t, f)

	_, ci := fx.dial(t, nil)
	assert.Equal(t, 1, fx.hub.Connections())

	require.NoError(t, fx.hub.Shutdown(context.Background()))

	select {
	case err := <-fx.served:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("hub did not stop serving")
	}

	select {
	case <-ci.Done():
	case <-time.After(waitTimeout):
		t.Fatal("client connection not closed")
	}

	assert.Eventually(t, func() bool {
		return fx.hub.Connections() == 0
	}, waitTimeout, time.Millisecond)

	// the route through the closed connection is kept
	_, ok := fx.router.Lookup(1)
	assert.True(t, ok)
}

func selfSignedTLS(t *testing.T) (*tls.Config, *x509.CertPool) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"rmi test"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		IsCA:         true,

		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}, pool
}
