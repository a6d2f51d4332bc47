package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"mess/db"
	"mess/protocol"
)

func (s *Server) buildDispatcher() *Dispatcher {
	d := NewDispatcher()

	d.Register(protocol.CmdLogin, false, s.handleLogin)
	d.Register(protocol.CmdService, false, s.handleService)
	d.Register(protocol.CmdError, false, s.handleClientError)

	d.Register(protocol.CmdLogout, true, s.handleLogout)
	d.Register(protocol.CmdAddContact, true, s.handleAddContact)
	d.Register(protocol.CmdFriends, true, s.handleFriends)
	d.Register(protocol.CmdChangeStatus, true, s.handleChangeStatus)
	d.Register(protocol.CmdAck, true, s.handleAck)
	d.Register(protocol.CmdMessage, true, s.handleDirectMessage)
	d.Register(protocol.CmdCreateChat, true, s.handleCreateChat)
	d.Register(protocol.CmdAddChatUser, true, s.handleAddChatUser)
	d.Register(protocol.CmdGetChats, true, s.handleGetChats)
	d.Register(protocol.CmdChatMessage, true, s.handleChatMessage)

	return d
}

// handleLogin validates credentials, atomically claims the name in the
// presence registry and then replays stored messages addressed to the
// user. A second session logging in with the same name while the first
// is still mid-login loses the claim and is rejected.
func (s *Server) handleLogin(session *Session, msg protocol.Message) {
	normal, ok := msg.(protocol.NormalMessage)
	if !ok || len(normal.Params) != 2 {
		session.SendError(ErrCodeInvalidCredentials)
		return
	}
	name, password := normal.Params[0], normal.Params[1]

	if session.Authenticated() {
		session.SendError(ErrCodeAlreadyLoggedIn)
		return
	}

	user, err := s.store.FindUserByName(name)
	if errors.Is(err, db.ErrNoRows) {
		session.SendError(ErrCodeInvalidCredentials)
		return
	}
	if err != nil {
		slog.Error("user lookup failed", "user", name, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}

	valid, err := s.store.Authenticate(name, password)
	if err != nil {
		slog.Error("authentication failed", "user", name, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}
	if !valid {
		session.SendError(ErrCodeInvalidCredentials)
		return
	}

	session.setUser(name, StatusOnline)
	if !s.registry.SetIfAbsent(name, session) {
		session.setUser("", "")
		session.SendError(ErrCodeUserAlreadyLoggedInElsewhere)
		return
	}

	// Registered before the replay query: a message persisted while the
	// replay runs is delivered live instead of falling between the query
	// and the watermark update. Worst case is a duplicate, never a gap.
	now := time.Now()
	stored, err := s.store.MessagesSince(name, user.LastOnline)
	if err != nil {
		slog.Error("offline replay lookup failed", "user", name, "err", err)
	}
	for _, m := range stored {
		session.Send(protocol.PayloadMessage{
			Cmd:     protocol.CmdMessage,
			Params:  []string{m.Sender},
			Payload: []byte(m.Data),
		})
		messagesDelivered.WithLabelValues("replay").Inc()
	}
	if err := s.store.UpdateLastOnline(name, now); err != nil {
		slog.Error("failed to update last online", "user", name, "err", err)
	}

	slog.Info("user logged in", "user", name, "replayed", len(stored))
}

func (s *Server) handleLogout(session *Session, msg protocol.Message) {
	s.logout(session)
}

func (s *Server) logout(session *Session) {
	name := session.User()
	if name == "" {
		return
	}

	s.registry.Remove(name, session)
	if err := s.store.UpdateLastOnline(name, time.Now()); err != nil {
		slog.Error("failed to update last online", "user", name, "err", err)
	}
	session.setUser("", "")
	slog.Info("user logged out", "user", name)
}

func (s *Server) handleAddContact(session *Session, msg protocol.Message) {
	normal, ok := msg.(protocol.NormalMessage)
	if !ok || len(normal.Params) != 1 {
		session.SendError(ErrCodeParseError)
		return
	}
	friend := normal.Params[0]
	name := session.User()

	if friend == name {
		session.SendError(ErrCodeNotAFriend)
		return
	}
	if _, err := s.store.FindUserByName(friend); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			session.SendError(ErrCodeNoSuchUser)
		} else {
			slog.Error("user lookup failed", "user", friend, "err", err)
			session.SendError(ErrCodeInternalError)
		}
		return
	}

	if err := s.store.AddFriend(name, friend); err != nil {
		slog.Error("failed to add friend", "user", name, "friend", friend, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}

	session.Send(protocol.NormalMessage{
		Cmd:    protocol.CmdAck,
		Params: []string{protocol.CmdAddContact},
	})
}

// handleFriends answers with one CHG per friend carrying the friend's
// current status, or the OFFLINE marker for friends not logged in.
func (s *Server) handleFriends(session *Session, msg protocol.Message) {
	name := session.User()

	friends, err := s.store.Friends(name)
	if err != nil {
		slog.Error("failed to load friends", "user", name, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}

	for _, friend := range friends {
		status := StatusOffline
		if friendSession, ok := s.registry.Get(friend); ok {
			status = friendSession.Status()
		}
		session.Send(protocol.NormalMessage{
			Cmd:    protocol.CmdChangeStatus,
			Params: []string{friend, status},
		})
	}
}

func (s *Server) handleChangeStatus(session *Session, msg protocol.Message) {
	normal, ok := msg.(protocol.NormalMessage)
	if !ok || len(normal.Params) != 1 {
		session.SendError(ErrCodeParseError)
		return
	}

	if err := s.registry.SetStatus(session.User(), normal.Params[0]); err != nil {
		if errors.Is(err, ErrNoSuchStatus) {
			session.SendError(ErrCodeNoSuchStatus)
		} else {
			// concurrently deregistered, no ACK for a no-op
			session.SendError(ErrCodeClientNotLoggedIn)
		}
		return
	}

	session.Send(protocol.NormalMessage{
		Cmd:    protocol.CmdAck,
		Params: []string{protocol.CmdChangeStatus},
	})
}

func (s *Server) handleAck(session *Session, msg protocol.Message) {
	// client-side delivery confirmation, nothing to do
}

// handleDirectMessage persists first so the message survives a failed
// delivery, then forwards immediately when the recipient is online. No
// acknowledgement goes back to the sender.
func (s *Server) handleDirectMessage(session *Session, msg protocol.Message) {
	payload, ok := msg.(protocol.PayloadMessage)
	if !ok || len(payload.Params) != 1 {
		session.SendError(ErrCodeParseError)
		return
	}
	recipient := payload.Params[0]
	sender := session.User()

	if _, err := s.store.FindUserByName(recipient); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			session.SendError(ErrCodeNoSuchUser)
		} else {
			slog.Error("user lookup failed", "user", recipient, "err", err)
			session.SendError(ErrCodeInternalError)
		}
		return
	}

	if s.cfg.RequireFriendship {
		friends, err := s.store.AreFriends(sender, recipient)
		if err != nil {
			slog.Error("friendship lookup failed", "user", sender, "err", err)
			session.SendError(ErrCodeInternalError)
			return
		}
		if !friends {
			session.SendError(ErrCodeNotAFriend)
			return
		}
	}

	if err := s.store.CreateMessage(recipient, sender, string(payload.Payload), time.Now()); err != nil {
		slog.Error("failed to persist message", "from", sender, "to", recipient, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}

	if recipientSession, ok := s.registry.Get(recipient); ok {
		recipientSession.Send(protocol.PayloadMessage{
			Cmd:     protocol.CmdMessage,
			Params:  []string{sender},
			Payload: payload.Payload,
		})
		messagesDelivered.WithLabelValues("direct").Inc()
	}
}

// handleCreateChat creates a chat named by the payload and answers with
// the new chat id.
func (s *Server) handleCreateChat(session *Session, msg protocol.Message) {
	payload, ok := msg.(protocol.PayloadMessage)
	if !ok || len(payload.Payload) == 0 {
		session.SendError(ErrCodeParseError)
		return
	}
	name := session.User()

	chat, err := s.store.CreateChat(string(payload.Payload), name)
	if err != nil {
		slog.Error("failed to create chat", "user", name, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}

	session.Send(protocol.PayloadMessage{
		Cmd:     protocol.CmdInfo,
		Payload: []byte(strconv.FormatInt(chat.ID, 10)),
	})
	slog.Info("chat created", "chat", chat.ID, "owner", name)
}

func (s *Server) handleAddChatUser(session *Session, msg protocol.Message) {
	normal, ok := msg.(protocol.NormalMessage)
	if !ok || len(normal.Params) != 2 {
		session.SendError(ErrCodeParseError)
		return
	}
	name := session.User()

	chatID, err := strconv.ParseInt(normal.Params[0], 10, 64)
	if err != nil {
		session.SendError(ErrCodeInvalidChatID)
		return
	}
	newMember := normal.Params[1]

	member, err := s.store.IsChatMember(chatID, name)
	if err != nil {
		slog.Error("chat membership lookup failed", "chat", chatID, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}
	if !member {
		session.SendError(ErrCodeInvalidChatID)
		return
	}

	if _, err := s.store.FindUserByName(newMember); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			session.SendError(ErrCodeNoSuchUser)
		} else {
			slog.Error("user lookup failed", "user", newMember, "err", err)
			session.SendError(ErrCodeInternalError)
		}
		return
	}

	if err := s.store.AddChatMember(chatID, newMember); err != nil {
		slog.Error("failed to add chat member", "chat", chatID, "user", newMember, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}

	session.Send(protocol.NormalMessage{
		Cmd:    protocol.CmdAck,
		Params: []string{protocol.CmdAddChatUser},
	})
}

func (s *Server) handleGetChats(session *Session, msg protocol.Message) {
	name := session.User()

	chats, err := s.store.Chats(name)
	if err != nil {
		slog.Error("failed to load chats", "user", name, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}

	lines := make([]string, 0, len(chats))
	for _, chat := range chats {
		lines = append(lines, fmt.Sprintf("Chat(id=%d, name=%s, owner=User(%s))",
			chat.ID, chat.Name, chat.Owner))
	}

	session.Send(protocol.PayloadMessage{
		Cmd:     protocol.CmdInfo,
		Payload: []byte(strings.Join(lines, "\n")),
	})
}

// handleChatMessage broadcasts to every other online member, never back
// to the sender. Persistence for offline members is a policy switch.
func (s *Server) handleChatMessage(session *Session, msg protocol.Message) {
	payload, ok := msg.(protocol.PayloadMessage)
	if !ok || len(payload.Params) != 1 {
		session.SendError(ErrCodeParseError)
		return
	}
	sender := session.User()

	chatID, err := strconv.ParseInt(payload.Params[0], 10, 64)
	if err != nil {
		session.SendError(ErrCodeInvalidChatID)
		return
	}

	member, err := s.store.IsChatMember(chatID, sender)
	if err != nil {
		slog.Error("chat membership lookup failed", "chat", chatID, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}
	if !member {
		session.SendError(ErrCodeInvalidChatID)
		return
	}

	if s.cfg.PersistChatMessages {
		if err := s.store.CreateChatMessage(chatID, sender, string(payload.Payload), time.Now()); err != nil {
			slog.Error("failed to persist chat message", "chat", chatID, "err", err)
		}
	}

	members, err := s.store.ChatMembers(chatID)
	if err != nil {
		slog.Error("failed to load chat members", "chat", chatID, "err", err)
		session.SendError(ErrCodeInternalError)
		return
	}

	for _, member := range members {
		if member == sender {
			continue
		}
		memberSession, ok := s.registry.Get(member)
		if !ok {
			continue
		}
		memberSession.Send(protocol.PayloadMessage{
			Cmd:     protocol.CmdChatMessage,
			Params:  []string{payload.Params[0], sender},
			Payload: payload.Payload,
		})
		messagesDelivered.WithLabelValues("chat").Inc()
	}
}

func (s *Server) handleService(session *Session, msg protocol.Message) {
	session.Send(protocol.PayloadMessage{
		Cmd:     protocol.CmdInfo,
		Payload: []byte(s.Stats()),
	})
}

func (s *Server) handleClientError(session *Session, msg protocol.Message) {
	errMsg, ok := msg.(protocol.ErrorMessage)
	if !ok {
		return
	}
	slog.Warn("client reported error", "user", session.User(), "code", errMsg.Code)
}
