package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"mess/config"
	"mess/protocol"
)

type Server struct {
	store      Store
	cfg        *config.Config
	registry   *Registry
	dispatcher *Dispatcher

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

func New(store Store, cfg *config.Config) *Server {
	s := &Server{
		store:    store,
		cfg:      cfg,
		registry: NewRegistry(store),
		conns:    make(map[*Session]struct{}),
	}
	s.dispatcher = s.buildDispatcher()
	return s
}

// Registry exposes the presence registry, mainly for introspection and
// tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start binds the listening socket and serves connections until
// Shutdown is called. It blocks.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	slog.Info("server started", "addr", s.cfg.Addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			slog.Error("accept failed", "err", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Serve drives connections from an already-accepted net.Conn. Used by
// tests with pipe connections.
func (s *Server) Serve(conn net.Conn) {
	s.wg.Add(1)
	go s.handleConnection(conn)
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	session := NewSession(conn, s.cfg.MaxFrameBuffer, time.Duration(s.cfg.WriteTimeout)*time.Second)

	s.mu.Lock()
	s.conns[session] = struct{}{}
	s.mu.Unlock()
	connectedClients.Inc()

	remote := "pipe"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	slog.Info("client connected", "remote", remote)

	defer s.teardown(session, remote)

	readTimeout := time.Duration(s.cfg.ReadTimeout) * time.Second
	buf := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			frames, perr := session.Receive(buf[:n])
			if perr != nil {
				slog.Warn("frame buffer error", "remote", remote, "err", perr)
				session.SendError(ErrCodeParseError)
			}
			for _, frame := range frames {
				s.process(session, frame)
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// idle peer, keep the slot
				continue
			}
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				slog.Warn("read failed", "remote", remote, "err", err)
			}
			return
		}
	}
}

// process parses and dispatches one frame. A panicking handler is
// contained here so one connection's failure never takes the server
// down.
func (s *Server) process(session *Session, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic", "user", session.User(), "panic", r)
			session.SendError(ErrCodeInternalError)
		}
	}()

	msg, err := protocol.Parse(frame)
	if err != nil {
		slog.Warn("parse failed", "user", session.User(), "err", err)
		if errors.Is(err, protocol.ErrUnknownCommand) {
			session.SendError(ErrCodeUnknownCommand)
		} else {
			session.SendError(ErrCodeParseError)
		}
		return
	}

	s.dispatcher.Dispatch(session, msg)
}

// teardown closes the connection and, for an authenticated session,
// runs the logout path so presence stays consistent.
func (s *Server) teardown(session *Session, remote string) {
	if user := session.User(); user != "" {
		s.logout(session)
	}

	s.mu.Lock()
	delete(s.conns, session)
	s.mu.Unlock()

	session.Close()
	connectedClients.Dec()
	slog.Info("client disconnected", "remote", remote)
}

// Shutdown notifies authenticated clients, closes every connection and
// the listener, and waits for connection goroutines to finish.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	listener := s.listener
	sessions := make([]*Session, 0, len(s.conns))
	for session := range s.conns {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if session.Authenticated() {
			session.Send(protocol.PayloadMessage{
				Cmd:     protocol.CmdInfo,
				Payload: []byte("server is shutting down"),
			})
		}
		session.Close()
	}

	if listener != nil {
		listener.Close()
	}
	s.wg.Wait()
	slog.Info("server stopped")
}

// Stats renders a short introspection summary for SRV requests.
func (s *Server) Stats() string {
	s.mu.Lock()
	connections := len(s.conns)
	s.mu.Unlock()

	users := s.registry.Online()
	return "connections=" + strconv.Itoa(connections) +
		",users=" + strings.Join(users, ";")
}
