package quic

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, events <-chan transport.Event, kind transport.EventKind) transport.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %d", kind)
		}
	}
}

func startPair(t *testing.T) (*Server, *Client) {
	t.Helper()
	tlsConf, err := SelfSignedTLS()
	require.NoError(t, err)

	srv := NewServer("127.0.0.1:0", tlsConf, nil, 4, nil)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Close() })

	client := NewClient(srv.Addr(), InsecureClientTLS(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("abc")))
	require.NoError(t, writeFrame(&buf, nil))

	frame, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), frame)

	frame, err = readFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, frame)
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := writeFrame(&buf, make([]byte, maxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestServerClientMessaging(t *testing.T) {
	srv, client := startPair(t)

	connected := next(t, srv.Events(), transport.EventConnected)
	assert.Equal(t, transport.ClientID(1), connected.Client)
	assert.Equal(t, []transport.ClientID{1}, srv.Clients())

	require.NoError(t, srv.Send(connected.Client, []byte("ping"), transport.ReliableOrdered))
	msg := next(t, client.Events(), transport.EventMessage)
	assert.Equal(t, []byte("ping"), msg.Data)

	require.NoError(t, client.Send([]byte("pong"), transport.ReliableUnordered))
	msg = next(t, srv.Events(), transport.EventMessage)
	assert.Equal(t, connected.Client, msg.Client)
	assert.Equal(t, []byte("pong"), msg.Data)

	stats, ok := srv.Stats(connected.Client)
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.PacketsIn)
}

func TestCloseClientReportsDisconnect(t *testing.T) {
	srv, client := startPair(t)
	connected := next(t, srv.Events(), transport.EventConnected)

	require.NoError(t, srv.CloseClient(connected.Client, transport.ReasonRejected))

	gone := next(t, srv.Events(), transport.EventDisconnected)
	assert.Equal(t, connected.Client, gone.Client)
	assert.Equal(t, transport.ReasonLocalClose, gone.Reason)

	remote := next(t, client.Events(), transport.EventDisconnected)
	assert.Equal(t, transport.ReasonRejected, remote.Reason)

	assert.Error(t, srv.Send(connected.Client, []byte("x"), transport.ReliableOrdered))
}

func TestValidatorRejects(t *testing.T) {
	tlsConf, err := SelfSignedTLS()
	require.NoError(t, err)

	srv := NewServer("127.0.0.1:0", tlsConf, nil, 4, nil)
	srv.SetValidator(func(string) (bool, string) { return false, "go away" })
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	client := NewClient(srv.Addr(), InsecureClientTLS(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, client.Connect(ctx))
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	client := NewClient(addr, InsecureClientTLS(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServerRestartsAfterClose(t *testing.T) {
	tlsConf, err := SelfSignedTLS()
	require.NoError(t, err)

	srv := NewServer("127.0.0.1:0", tlsConf, nil, 4, nil)
	require.NoError(t, srv.Start(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), ErrAlreadyStarted)
	dial(t, srv.Addr())
	next(t, srv.Events(), transport.EventConnected)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Send(1, []byte("x"), transport.ReliableOrdered), ErrTransportClosed)

	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	client := dial(t, srv.Addr())
	connected := next(t, srv.Events(), transport.EventConnected)
	assert.Equal(t, transport.ClientID(1), connected.Client)

	require.NoError(t, srv.Send(connected.Client, []byte("again"), transport.ReliableOrdered))
	msg := next(t, client.Events(), transport.EventMessage)
	assert.Equal(t, []byte("again"), msg.Data)
}

func TestDisconnectPrecedesIDReuse(t *testing.T) {
	srv, client := startPair(t)
	first := next(t, srv.Events(), transport.EventConnected)

	require.NoError(t, client.Close())
	gone := next(t, srv.Events(), transport.EventDisconnected)
	assert.Equal(t, first.Session, gone.Session)

	dial(t, srv.Addr())
	second := next(t, srv.Events(), transport.EventConnected)
	assert.Equal(t, first.Client, second.Client)
	assert.NotEqual(t, first.Session, second.Session)
}
