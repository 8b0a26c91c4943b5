// Package websockets implements the transport contracts on gorilla/websocket
// for clients that cannot speak QUIC.
package websockets

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/netsync/pkg/axlog"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
)

type session struct {
	id      transport.ClientID
	session uuid.UUID
	*peer
}

// Server implements transport.ServerTransport. It can listen on its own
// address or be mounted into an existing mux as an http.Handler, and it can
// be started again after Close.
type Server struct {
	address  string
	upgrader websocket.Upgrader
	logger   axlog.Logger
	ids      *transport.IDPool

	clients  map[transport.ClientID]*session
	clientMu sync.RWMutex

	events    chan transport.Event
	validator atomic.Pointer[transport.ConnectionValidator]

	// lifecycle serializes Start and Close, mu guards the per-run state.
	lifecycle  sync.Mutex
	mu         sync.RWMutex
	running    bool
	ctx        context.Context
	cancel     context.CancelFunc
	httpServer *http.Server
	listener   net.Listener
	sessions   sync.WaitGroup
}

func NewServer(address string, maxClients int, logger axlog.Logger) *Server {
	return &Server{
		address: address,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  axlog.OrNop(logger),
		ids:     transport.NewIDPool(maxClients),
		clients: make(map[transport.ClientID]*session),
		events:  make(chan transport.Event, eventBuffer),
	}
}

// Start begins accepting upgrades. With an empty address no listener is
// opened and the server only serves through ServeHTTP.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if running {
		return ErrAlreadyStarted
	}

	var (
		listener   net.Listener
		httpServer *http.Server
	)
	if s.address != "" {
		l, err := net.Listen("tcp", s.address)
		if err != nil {
			return eris.Wrapf(err, "failed listening on %s", s.address)
		}
		listener = l
		httpServer = &http.Server{Handler: s, ReadHeaderTimeout: writeWait}
	}
	transport.DrainEvents(s.events)

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running = true
	s.ctx, s.cancel = ctx, cancel
	s.httpServer = httpServer
	if listener != nil {
		s.listener = listener
	}
	s.mu.Unlock()

	if httpServer != nil {
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.transmit(transport.Event{Kind: transport.EventError, Err: eris.Wrap(err, "http server failed")})
			}
		}()
		s.logger.Info("websocket transport listening", "address", listener.Addr().String())
	}
	return nil
}

func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	running, ctx := s.running, s.ctx
	if running {
		s.sessions.Add(1)
	}
	s.mu.RUnlock()
	if !running {
		http.Error(w, "not accepting connections", http.StatusServiceUnavailable)
		return
	}

	if validator := s.validator.Load(); validator != nil {
		if accept, reason := (*validator)(r.RemoteAddr); !accept {
			s.sessions.Done()
			http.Error(w, reason, http.StatusForbidden)
			return
		}
	}

	id, err := s.ids.Acquire()
	if err != nil {
		s.sessions.Done()
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.ids.Release(id)
		s.sessions.Done()
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := &session{id: id, session: uuid.New(), peer: newPeer(conn)}
	s.clientMu.Lock()
	s.clients[id] = sess
	s.clientMu.Unlock()

	s.transmit(transport.Event{Kind: transport.EventConnected, Client: id, Session: sess.session, RemoteAddr: r.RemoteAddr})
	go s.serve(ctx, sess)
}

func (s *Server) serve(ctx context.Context, sess *session) {
	defer s.sessions.Done()

	reason, err := sess.run(ctx, func(data []byte) {
		s.transmit(transport.Event{Kind: transport.EventMessage, Client: sess.id, Session: sess.session, Data: data})
	})

	s.clientMu.Lock()
	delete(s.clients, sess.id)
	s.clientMu.Unlock()

	if ctx.Err() != nil {
		reason = transport.ReasonShutdown
	}
	s.transmit(transport.Event{Kind: transport.EventDisconnected, Client: sess.id, Session: sess.session, Reason: reason, Err: err})

	// The id is reusable only once its Disconnected event is queued.
	s.ids.Release(sess.id)
}

func (s *Server) transmit(ev transport.Event) {
	select {
	case s.events <- ev:
	case <-time.After(time.Second):
		s.logger.Warn("dropping transport event", "kind", ev.Kind, "client", ev.Client)
	}
}

// Close stops accepting, disconnects every session and waits for them.
func (s *Server) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, httpServer := s.cancel, s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	cancel()
	var err error
	if httpServer != nil {
		err = httpServer.Close()
	}
	s.sessions.Wait()
	return err
}

func (s *Server) lookup(id transport.ClientID) (*session, error) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return nil, ErrTransportClosed
	}
	s.clientMu.RLock()
	sess, ok := s.clients[id]
	s.clientMu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrClientNotFound, "client %d", id)
	}
	return sess, nil
}

func (s *Server) Send(id transport.ClientID, data []byte, _ transport.Delivery) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	return sess.enqueue(data)
}

func (s *Server) CloseClient(id transport.ClientID, reason transport.DisconnectReason) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	sess.closeWith(reason)
	return nil
}

func (s *Server) Clients() []transport.ClientID {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()

	ids := make([]transport.ClientID, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) Stats(id transport.ClientID) (transport.Stats, bool) {
	s.clientMu.RLock()
	sess, ok := s.clients[id]
	s.clientMu.RUnlock()
	if !ok {
		return transport.Stats{}, false
	}
	return sess.stats.Snapshot(), true
}

func (s *Server) Events() <-chan transport.Event {
	return s.events
}

func (s *Server) SetValidator(validator transport.ConnectionValidator) {
	if validator == nil {
		s.validator.Store(nil)
		return
	}
	s.validator.Store(&validator)
}
