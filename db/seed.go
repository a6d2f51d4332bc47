package db

import (
	"errors"
	"log/slog"
)

// Seed fills an empty database with a small fixed population for
// manual runs and load tests:
//
//	userA friends with userB and userC
//	userB friends with userA and userC
//	userZ has no friends and owns First_chat with userB and userC
//
// Existing users are left alone, so seeding twice is harmless.
func (db *DB) Seed() error {
	users := map[string]string{
		"userA": "passA",
		"userB": "passB",
		"userC": "passC",
		"userZ": "passZ",
	}

	for name, password := range users {
		_, err := db.FindUserByName(name)
		if err == nil {
			slog.Info("seed user already exists", "user", name)
			continue
		}
		if !errors.Is(err, ErrNoRows) {
			return err
		}
		if err := db.CreateUser(name, password); err != nil {
			return err
		}
	}

	friendships := [][2]string{
		{"userA", "userB"},
		{"userA", "userC"},
		{"userB", "userC"},
	}
	for _, pair := range friendships {
		if err := db.AddFriend(pair[0], pair[1]); err != nil {
			return err
		}
	}

	chats, err := db.Chats("userZ")
	if err != nil {
		return err
	}
	for _, chat := range chats {
		if chat.Name == "First_chat" {
			return nil
		}
	}

	chat, err := db.CreateChat("First_chat", "userZ")
	if err != nil {
		return err
	}
	for _, member := range []string{"userB", "userC"} {
		if err := db.AddChatMember(chat.ID, member); err != nil {
			return err
		}
	}

	slog.Info("database seeded", "users", len(users), "chat", chat.ID)
	return nil
}
