package server

import (
	"time"

	"mess/models"
)

// Store is the persistence surface the routing layer depends on.
// *db.DB satisfies it; tests may substitute their own.
type Store interface {
	FindUserByName(name string) (*models.User, error)
	Authenticate(name, password string) (bool, error)
	UpdateLastOnline(name string, t time.Time) error

	AddFriend(owner, friend string) error
	Friends(owner string) ([]string, error)
	AreFriends(owner, friend string) (bool, error)

	CreateMessage(to, by, data string, t time.Time) error
	MessagesSince(user string, since time.Time) ([]models.Message, error)

	CreateChat(name, owner string) (*models.Chat, error)
	FindChat(id int64) (*models.Chat, error)
	Chats(user string) ([]models.Chat, error)
	AddChatMember(chatID int64, user string) error
	IsChatMember(chatID int64, user string) (bool, error)
	ChatMembers(chatID int64) ([]string, error)
	CreateChatMessage(chatID int64, by, data string, t time.Time) error
}
