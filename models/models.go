package models

import "time"

type User struct {
	ID         int64
	Name       string
	Password   string // bcrypt hash
	LastOnline time.Time
}

type Chat struct {
	ID      int64
	Name    string
	Owner   string
	Created time.Time
}

// Message is a stored direct message, kept for offline replay.
// Immutable once created.
type Message struct {
	ID        int64
	Sender    string
	Recipient string
	Data      string
	Created   time.Time
}

// ChatMessage is a stored chat-room message.
type ChatMessage struct {
	ID      int64
	ChatID  int64
	Sender  string
	Data    string
	Created time.Time
}
