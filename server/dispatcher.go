package server

import (
	"mess/protocol"
)

// HandlerFunc processes one decoded message on behalf of a session.
type HandlerFunc func(s *Session, msg protocol.Message)

type handler struct {
	fn           HandlerFunc
	requiresAuth bool
}

// Dispatcher maps command codes to handlers. Each registration carries
// an explicit auth flag, checked here before the handler body runs.
type Dispatcher struct {
	handlers map[string]handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]handler)}
}

func (d *Dispatcher) Register(cmd string, requiresAuth bool, fn HandlerFunc) {
	d.handlers[cmd] = handler{fn: fn, requiresAuth: requiresAuth}
}

// Dispatch routes a parsed message to its handler. A command that
// parsed but has no handler, or an auth-required command on an
// unauthenticated session, is answered with an ERR and goes no further.
func (d *Dispatcher) Dispatch(s *Session, msg protocol.Message) {
	h, ok := d.handlers[msg.Command()]
	if !ok {
		s.SendError(ErrCodeNoHandlerForCommand)
		return
	}

	if h.requiresAuth && !s.Authenticated() {
		s.SendError(ErrCodeClientNotLoggedIn)
		return
	}

	commandsTotal.WithLabelValues(msg.Command()).Inc()
	h.fn(s, msg)
}
