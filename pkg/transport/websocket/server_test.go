package websockets

import (
	"context"
	"net/http/httptest"
	"strings"
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

func mount(t *testing.T, srv *Server) string {
	t.Helper()
	require.NoError(t, srv.Start(context.Background()))
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	client := NewClient(url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	return client
}

func TestMessaging(t *testing.T) {
	srv := NewServer("", 4, nil)
	client := dial(t, mount(t, srv))
	defer client.Close()

	connected := next(t, srv.Events(), transport.EventConnected)
	assert.Equal(t, transport.ClientID(1), connected.Client)
	assert.Equal(t, []transport.ClientID{1}, srv.Clients())

	require.NoError(t, client.Send([]byte("hello"), transport.Unreliable))
	msg := next(t, srv.Events(), transport.EventMessage)
	assert.Equal(t, []byte("hello"), msg.Data)
	assert.Equal(t, connected.Session, msg.Session)

	require.NoError(t, srv.Send(connected.Client, []byte("world"), transport.ReliableOrdered))
	msg = next(t, client.Events(), transport.EventMessage)
	assert.Equal(t, []byte("world"), msg.Data)

	stats, ok := srv.Stats(connected.Client)
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.PacketsIn)
	assert.Eventually(t, func() bool {
		stats, _ := srv.Stats(connected.Client)
		return stats.PacketsOut == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCloseClientCarriesReason(t *testing.T) {
	srv := NewServer("", 4, nil)
	client := dial(t, mount(t, srv))

	connected := next(t, srv.Events(), transport.EventConnected)
	require.NoError(t, srv.CloseClient(connected.Client, transport.ReasonProtocolViolation))

	remote := next(t, client.Events(), transport.EventDisconnected)
	assert.Equal(t, transport.ReasonProtocolViolation, remote.Reason)

	local := next(t, srv.Events(), transport.EventDisconnected)
	assert.Equal(t, transport.ReasonLocalClose, local.Reason)
	assert.Empty(t, srv.Clients())

	_, ok := srv.Stats(connected.Client)
	assert.False(t, ok)
}

func TestClientCloseIsRemoteForServer(t *testing.T) {
	srv := NewServer("", 4, nil)
	client := dial(t, mount(t, srv))
	next(t, srv.Events(), transport.EventConnected)

	require.NoError(t, client.Close())
	gone := next(t, srv.Events(), transport.EventDisconnected)
	assert.Equal(t, transport.ReasonRemoteClose, gone.Reason)
	assert.ErrorIs(t, client.Send([]byte("x"), transport.ReliableOrdered), ErrNotConnected)
}

func TestValidatorAndCapacity(t *testing.T) {
	srv := NewServer("", 1, nil)
	url := mount(t, srv)

	first := dial(t, url)
	defer first.Close()

	second := NewClient(url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, second.Connect(ctx))

	srv.SetValidator(func(string) (bool, string) { return false, "closed" })
	third := NewClient(url)
	assert.Error(t, third.Connect(ctx))
	rejected := next(t, third.Events(), transport.EventDisconnected)
	assert.Equal(t, transport.ReasonRejected, rejected.Reason)
}

func TestServerRestartsAfterClose(t *testing.T) {
	srv := NewServer("127.0.0.1:0", 4, nil)
	require.NoError(t, srv.Start(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), ErrAlreadyStarted)

	first := dial(t, "ws://"+srv.Addr()+"/")
	defer first.Close()
	next(t, srv.Events(), transport.EventConnected)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Send(1, []byte("x"), transport.ReliableOrdered), ErrTransportClosed)

	require.NoError(t, srv.Start(context.Background()))
	url := "ws://" + srv.Addr() + "/"
	second := dial(t, url)
	defer second.Close()

	connected := next(t, srv.Events(), transport.EventConnected)
	assert.Equal(t, transport.ClientID(1), connected.Client)
	require.NoError(t, srv.Send(connected.Client, []byte("again"), transport.ReliableOrdered))
	assert.Equal(t, []byte("again"), next(t, second.Events(), transport.EventMessage).Data)

	require.NoError(t, srv.Close())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, NewClient(url).Connect(ctx))
}

func TestDisconnectPrecedesIDReuse(t *testing.T) {
	srv := NewServer("", 4, nil)
	url := mount(t, srv)

	old := dial(t, url)
	first := next(t, srv.Events(), transport.EventConnected)
	require.NoError(t, old.Close())
	gone := next(t, srv.Events(), transport.EventDisconnected)
	assert.Equal(t, first.Session, gone.Session)

	reuse := dial(t, url)
	defer reuse.Close()
	second := next(t, srv.Events(), transport.EventConnected)
	assert.Equal(t, first.Client, second.Client)
	assert.NotEqual(t, first.Session, second.Session)
}
