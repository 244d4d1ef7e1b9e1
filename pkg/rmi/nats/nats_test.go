package nats_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kbirk/rmi/pkg/rmi"
	rminats "github.com/kbirk/rmi/pkg/rmi/nats"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const natsURL = "nats://localhost:4222"

func requireNATS(t *testing.T) {
	t.Helper()
	nc, err := nats.Connect(natsURL, nats.Timeout(500*time.Millisecond))
	if err != nil {
		t.Skipf("no NATS server at %s: %v", natsURL, err)
	}
	nc.Close()
}

func TestNATSConnectionFailure(t *testing.T) {
	transport := rminats.NewClientTransport(rminats.ClientTransportConfig{
		URL: "nats://localhost:9999",
	})

	_, err := rmi.Dial(transport, rmi.ConnInterfaceConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect")
}

func TestNATSServerConnectionFailure(t *testing.T) {
	transport := rminats.NewServerTransport(rminats.ServerTransportConfig{
		URL: "nats://localhost:9999",
	})
	assert.Error(t, transport.Listen())
}

func TestNATSHub(t *testing.T) {
	requireNATS(t)

	subject := fmt.Sprintf("rmi.test.%d", time.Now().UnixNano())

	router := rmi.NewRouter(rmi.RouterConfig{})
	hub := rmi.NewHub(rmi.HubConfig{
		Router: router,
		Transport: rminats.NewServerTransport(rminats.ServerTransportConfig{
			URL:     natsURL,
			Subject: subject,
		}),
	})
	go hub.ListenAndServe()
	defer hub.Shutdown(context.Background())

	client := rminats.NewClientTransport(rminats.ClientTransportConfig{
		URL:     natsURL,
		Subject: subject,
	})

	dial := func(svc rmi.Service) *rmi.Endpoint {
		ci, err := rmi.Dial(client, rmi.ConnInterfaceConfig{})
		require.NoError(t, err)
		t.Cleanup(func() { ci.Close() })
		return rmi.NewEndpoint(rmi.EndpointConfig{Interface: ci, Service: svc})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the hub subscribes asynchronously, so registration may need a retry
	var server *rmi.Endpoint
	require.Eventually(t, func() bool {
		server = dial(rmi.Methods{
			"upper": func(ctx context.Context, args []any) (any, error) {
				s, err := rmi.As[string](args[0])
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("%s!", s), nil
			},
		})
		attempt, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		return server.WaitRegistered(attempt) == nil
	}, 5*time.Second, 10*time.Millisecond)

	caller := dial(nil)
	require.NoError(t, caller.WaitRegistered(ctx))
	assert.NotEqual(t, server.ID(), caller.ID())

	res, err := caller.Call(ctx, server.ID(), "upper", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi!", res)
}
