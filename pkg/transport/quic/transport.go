// Package quic implements the transport contracts using quic-go.
package quic

import (
	"context"
	"crypto/tls"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/netsync/pkg/axlog"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"
)

type peer struct {
	id      transport.ClientID
	session uuid.UUID
	*link
}

// Server implements transport.ServerTransport. It can be started again
// after Close.
type Server struct {
	address    string
	tlsConfig  *tls.Config
	quicConfig *quic.Config
	logger     axlog.Logger

	ids *transport.IDPool

	clients  map[transport.ClientID]*peer
	clientMu sync.RWMutex

	events    chan transport.Event
	validator atomic.Pointer[transport.ConnectionValidator]

	// lifecycle serializes Start and Close, mu guards the per-run state.
	lifecycle       sync.Mutex
	mu              sync.RWMutex
	running         bool
	listener        *quic.Listener
	operations      chan hubOperation
	cancel          context.CancelFunc
	connectionsDone chan struct{}
	operationDone   chan struct{}
	peers           sync.WaitGroup
}

func NewServer(address string, tlsConf *tls.Config, config *quic.Config, maxClients int, logger axlog.Logger) *Server {
	return &Server{
		address:    address,
		tlsConfig:  tlsConf,
		quicConfig: withDatagrams(config),
		logger:     axlog.OrNop(logger),
		ids:        transport.NewIDPool(maxClients),
		clients:    make(map[transport.ClientID]*peer),
		events:     make(chan transport.Event, eventBuffer),
	}
}

func (t *Server) Start(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.RLock()
	running := t.running
	t.mu.RUnlock()
	if running {
		return ErrAlreadyStarted
	}

	listener, err := quic.ListenAddr(t.address, t.tlsConfig, t.quicConfig)
	if err != nil {
		return eris.Wrapf(err, "failed listening on %s", t.address)
	}
	transport.DrainEvents(t.events)

	ctx, cancel := context.WithCancel(ctx)
	operations := make(chan hubOperation, 100)
	connectionsDone := make(chan struct{})
	operationDone := make(chan struct{})

	t.mu.Lock()
	t.running = true
	t.listener = listener
	t.operations = operations
	t.cancel = cancel
	t.connectionsDone = connectionsDone
	t.operationDone = operationDone
	t.mu.Unlock()

	go t.run(ctx, operations, operationDone)
	go t.acceptConnections(ctx, listener, connectionsDone)

	t.logger.Info("quic transport listening", "address", listener.Addr().String())
	return nil
}

// Addr is the bound listener address, useful when listening on port 0.
func (t *Server) Addr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return t.address
	}
	return t.listener.Addr().String()
}

func (t *Server) acceptConnections(ctx context.Context, listener *quic.Listener, done chan struct{}) {
	defer close(done)

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				t.transmit(transport.Event{Kind: transport.EventError, Err: eris.Wrap(err, "failed accepting connection")})
				continue
			}
		}

		if validator := t.validator.Load(); validator != nil {
			accept, reason := (*validator)(conn.RemoteAddr().String())
			if !accept {
				conn.CloseWithError(closeCode(transport.ReasonRejected), reason)
				continue
			}
		}

		t.peers.Add(1)
		go t.handshake(ctx, conn)
	}
}

func (t *Server) handshake(ctx context.Context, conn quic.Connection) {
	defer t.peers.Done()

	id, err := t.ids.Acquire()
	if err != nil {
		conn.CloseWithError(closeCode(transport.ReasonRejected), err.Error())
		return
	}

	control, err := conn.OpenStreamSync(ctx)
	if err == nil {
		// An empty frame announces the control stream to the peer.
		err = writeFrame(control, nil)
	}
	if err != nil {
		t.ids.Release(id)
		conn.CloseWithError(closeCode(transport.ReasonConnectionFailed), "control stream")
		t.transmit(transport.Event{Kind: transport.EventError, Err: eris.Wrap(err, "failed opening control stream")})
		return
	}

	p := &peer{id: id, session: uuid.New(), link: newLink(conn, control)}
	if err := t.registerClient(p); err != nil {
		t.ids.Release(id)
		conn.CloseWithError(closeCode(transport.ReasonShutdown), err.Error())
	}
}

func (t *Server) run(ctx context.Context, operations chan hubOperation, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case op := <-operations:
			t.handleOperation(op, ctx)
		}
	}
}

func (t *Server) handleOperation(op hubOperation, ctx context.Context) {
	var err error

	switch op.Type {
	case opRegisterClient:
		t.clientMu.Lock()
		t.clients[op.Client.id] = op.Client
		t.clientMu.Unlock()

		// Connected is queued before the peer can produce any other event.
		t.transmit(transport.Event{
			Kind:       transport.EventConnected,
			Client:     op.Client.id,
			Session:    op.Client.session,
			RemoteAddr: op.Client.conn.RemoteAddr().String(),
		})
		t.peers.Add(1)
		go t.servePeer(ctx, op.Client)

	case opUnregisterClient:
		t.clientMu.RLock()
		client, ok := t.clients[op.ClientId]
		t.clientMu.RUnlock()
		if !ok {
			err = ErrClientNotFound{op.ClientId}
		} else {
			client.closeWith(op.Reason)
		}

	case opSendMessage:
		t.clientMu.RLock()
		client, exists := t.clients[op.ClientId]
		t.clientMu.RUnlock()

		if !exists {
			err = ErrClientNotFound{op.ClientId}
		} else {
			err = client.enqueue(op.Message, op.Delivery)
		}
	}

	if op.Response != nil {
		op.Response <- err
	}
}

func (t *Server) servePeer(ctx context.Context, p *peer) {
	defer t.peers.Done()

	err := p.run(ctx, func(data []byte) {
		t.transmit(transport.Event{Kind: transport.EventMessage, Client: p.id, Session: p.session, Data: data})
	}, func(err error) {
		t.transmit(transport.Event{Kind: transport.EventError, Client: p.id, Session: p.session, Err: err})
	})

	t.clientMu.Lock()
	delete(t.clients, p.id)
	t.clientMu.Unlock()

	reason := disconnectReason(err)
	if ctx.Err() != nil {
		reason = transport.ReasonShutdown
	}
	t.logger.Debug("quic client disconnected", "client", p.id, "reason", reason.String())
	t.transmit(transport.Event{Kind: transport.EventDisconnected, Client: p.id, Session: p.session, Reason: reason, Err: err})

	// The id is reusable only once its Disconnected event is queued.
	t.ids.Release(p.id)
}

func (t *Server) transmit(ev transport.Event) {
	select {
	case t.events <- ev:
	case <-time.After(sendTimeout):
		t.logger.Warn("dropping transport event", "kind", ev.Kind, "client", ev.Client)
	}
}

// Close stops accepting, disconnects every peer and waits for them.
func (t *Server) Close() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	cancel, listener := t.cancel, t.listener
	connectionsDone, operationDone := t.connectionsDone, t.operationDone
	t.mu.Unlock()

	cancel()
	<-connectionsDone
	<-operationDone
	t.peers.Wait()

	return listener.Close()
}

func (t *Server) do(op hubOperation) error {
	t.mu.RLock()
	running, operations, done := t.running, t.operations, t.operationDone
	t.mu.RUnlock()
	if !running {
		return ErrTransportClosed
	}

	op.Response = make(chan error, 1)
	select {
	case operations <- op:
	case <-done:
		return ErrTransportClosed
	}
	select {
	case err := <-op.Response:
		return err
	case <-done:
		return ErrTransportClosed
	}
}

func (t *Server) registerClient(p *peer) error {
	return t.do(hubOperation{Type: opRegisterClient, Client: p})
}

func (t *Server) CloseClient(id transport.ClientID, reason transport.DisconnectReason) error {
	return t.do(hubOperation{Type: opUnregisterClient, ClientId: id, Reason: reason})
}

func (t *Server) Send(clientId transport.ClientID, message []byte, delivery transport.Delivery) error {
	return t.do(hubOperation{
		Type:     opSendMessage,
		ClientId: clientId,
		Message:  message,
		Delivery: delivery,
	})
}

func (t *Server) Clients() []transport.ClientID {
	t.clientMu.RLock()
	defer t.clientMu.RUnlock()

	ids := make([]transport.ClientID, 0, len(t.clients))
	for id := range t.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (t *Server) Stats(id transport.ClientID) (transport.Stats, bool) {
	t.clientMu.RLock()
	client, ok := t.clients[id]
	t.clientMu.RUnlock()
	if !ok {
		return transport.Stats{}, false
	}
	return client.stats.Snapshot(), true
}

func (t *Server) Events() <-chan transport.Event {
	return t.events
}

func (t *Server) SetValidator(validator transport.ConnectionValidator) {
	if validator == nil {
		t.validator.Store(nil)
		return
	}
	t.validator.Store(&validator)
}
