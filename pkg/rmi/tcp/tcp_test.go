package tcp

import (
	"net"
	"testing"

	"github.com/kbirk/rmi/pkg/rmi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionFramesMessages(t *testing.T) {
	a, b := net.Pipe()
	ca := NewConnection(a, 0, 0)
	cb := NewConnection(b, 0, 0)
	defer ca.Close()
	defer cb.Close()

	go func() {
		ca.Send([]byte("hello"))
		ca.Send([]byte{})
		ca.Send([]byte("world"))
	}()

	for _, want := range []string{"hello", "", "world"} {
		got, err := cb.Receive()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestConnectionSendLimit(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	ca := NewConnection(a, 4, 0)
	defer ca.Close()

	err := ca.Send([]byte("too long"))
	assert.Error(t, err)
}

func TestConnectionReceiveLimit(t *testing.T) {
	a, b := net.Pipe()
	ca := NewConnection(a, 0, 0)
	cb := NewConnection(b, 0, 4)
	defer ca.Close()
	defer cb.Close()

	go ca.Send([]byte("too long"))

	_, err := cb.Receive()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, rmi.ErrConnectionClosed)
}

func TestConnectionReportsPeerClose(t *testing.T) {
	a, b := net.Pipe()
	cb := NewConnection(b, 0, 0)
	defer cb.Close()

	require.NoError(t, a.Close())

	_, err := cb.Receive()
	assert.ErrorIs(t, err, rmi.ErrConnectionClosed)
}

func TestTransportConnects(t *testing.T) {
	server := NewServerTransport(ServerTransportConfig{NoDelay: true})
	require.NoError(t, server.Listen())
	defer server.Close()

	assert.Error(t, server.Listen())

	client := NewClientTransport(ClientTransportConfig{
		Host: "localhost",
		Port: server.Addr().(*net.TCPAddr).Port,
	})
	cc, err := client.Connect()
	require.NoError(t, err)
	defer cc.Close()

	sc, err := server.Accept()
	require.NoError(t, err)
	defer sc.Close()

	go cc.Send([]byte("ping"))
	got, err := sc.Receive()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))

	require.NoError(t, server.Close())
	_, err = server.Accept()
	assert.ErrorIs(t, err, rmi.ErrTransportClosed)
}
