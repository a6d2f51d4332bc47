package server

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"mess/protocol"
)

// Session is the per-connection state: the connection itself, its frame
// buffer and, after login, the authenticated user and presence status.
type Session struct {
	conn         net.Conn
	buffer       *protocol.Buffer
	writeTimeout time.Duration

	mu     sync.Mutex
	user   string
	status string
}

func NewSession(conn net.Conn, maxBuffer int, writeTimeout time.Duration) *Session {
	return &Session{
		conn:         conn,
		buffer:       protocol.NewBuffer(maxBuffer),
		writeTimeout: writeTimeout,
	}
}

// Receive feeds raw connection bytes to the frame buffer and returns
// any complete frames.
func (s *Session) Receive(data []byte) ([][]byte, error) {
	return s.buffer.Push(data)
}

func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) Authenticated() bool {
	return s.User() != ""
}

func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setUser(user, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.status = status
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Send serializes and writes one message. A closed or reset peer is
// logged, never propagated: a dead recipient must not take the sender's
// connection down with it.
func (s *Session) Send(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if _, err := s.conn.Write(msg.Bytes()); err != nil {
		slog.Warn("write failed", "user", s.user, "remote", s.conn.RemoteAddr(), "err", err)
	}
}

func (s *Session) SendError(code string) {
	s.Send(protocol.ErrorMessage{Code: code})
}

func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
