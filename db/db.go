package db

import (
	"database/sql"
	"errors"
	"time"

	"mess/models"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var ErrNoRows = errors.New("no rows found")

// timeFormat is RFC3339 with fixed nanosecond width. Fixed width keeps
// lexicographic order equal to chronological order, which the replay
// query relies on for its string comparison.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			last_online TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			friend TEXT NOT NULL,
			UNIQUE(owner, friend)
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			created_ts TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			user TEXT NOT NULL,
			UNIQUE(chat_id, user)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			data TEXT NOT NULL,
			created_ts TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			sender TEXT NOT NULL,
			data TEXT NOT NULL,
			created_ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, created_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_friends_owner ON friends(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_members_chat ON chat_members(chat_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// User methods

func (db *DB) CreateUser(name, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(timeFormat)
	_, err = db.conn.Exec(
		"INSERT INTO users (name, password, last_online) VALUES (?, ?, ?)",
		name, string(hashed), now,
	)
	return err
}

func (db *DB) FindUserByName(name string) (*models.User, error) {
	var u models.User
	var lastOnlineStr string
	err := db.conn.QueryRow(
		"SELECT id, name, password, last_online FROM users WHERE name = ?",
		name,
	).Scan(&u.ID, &u.Name, &u.Password, &lastOnlineStr)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}

	u.LastOnline, _ = time.Parse(time.RFC3339Nano, lastOnlineStr)
	return &u, nil
}

func (db *DB) Authenticate(name, password string) (bool, error) {
	var hashedPassword string
	err := db.conn.QueryRow("SELECT password FROM users WHERE name = ?", name).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil, nil
}

// UpdateLastOnline moves the offline-replay watermark for a user.
func (db *DB) UpdateLastOnline(name string, t time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE users SET last_online = ? WHERE name = ?",
		t.UTC().Format(timeFormat), name,
	)
	return err
}

// Friendship methods

// AddFriend records a symmetric friendship. Adding an existing pair is
// a no-op; self-friendship is rejected.
func (db *DB) AddFriend(owner, friend string) error {
	if owner == friend {
		return errors.New("cannot befriend self")
	}
	if _, err := db.conn.Exec(
		"INSERT OR IGNORE INTO friends (owner, friend) VALUES (?, ?)", owner, friend,
	); err != nil {
		return err
	}
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO friends (owner, friend) VALUES (?, ?)", friend, owner,
	)
	return err
}

func (db *DB) Friends(owner string) ([]string, error) {
	rows, err := db.conn.Query("SELECT friend FROM friends WHERE owner = ?", owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		friends = append(friends, name)
	}

	return friends, rows.Err()
}

func (db *DB) AreFriends(owner, friend string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM friends WHERE owner = ? AND friend = ?", owner, friend,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Message methods

func (db *DB) CreateMessage(to, by, data string, t time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (sender, recipient, data, created_ts) VALUES (?, ?, ?, ?)",
		by, to, data, t.UTC().Format(timeFormat),
	)
	return err
}

// MessagesSince returns messages addressed to user created after the
// given time, in creation order.
func (db *DB) MessagesSince(user string, since time.Time) ([]models.Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, sender, recipient, data, created_ts
		FROM messages
		WHERE recipient = ? AND created_ts > ?
		ORDER BY created_ts ASC, id ASC`,
		user, since.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var createdStr string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Data, &createdStr); err != nil {
			return nil, err
		}
		m.Created, _ = time.Parse(time.RFC3339Nano, createdStr)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Chat methods

// CreateChat creates a chat and enrolls the owner as its first member.
func (db *DB) CreateChat(name, owner string) (*models.Chat, error) {
	now := time.Now().UTC()
	result, err := db.conn.Exec(
		"INSERT INTO chats (name, owner, created_ts) VALUES (?, ?, ?)",
		name, owner, now.Format(timeFormat),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := db.AddChatMember(id, owner); err != nil {
		return nil, err
	}

	return &models.Chat{ID: id, Name: name, Owner: owner, Created: now}, nil
}

func (db *DB) FindChat(id int64) (*models.Chat, error) {
	var c models.Chat
	var createdStr string
	err := db.conn.QueryRow(
		"SELECT id, name, owner, created_ts FROM chats WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.Owner, &createdStr)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}

	c.Created, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &c, nil
}

// Chats returns every chat the user is a member of.
func (db *DB) Chats(user string) ([]models.Chat, error) {
	rows, err := db.conn.Query(`
		SELECT c.id, c.name, c.owner, c.created_ts
		FROM chats c JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user = ?
		ORDER BY c.id ASC`,
		user,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		var c models.Chat
		var createdStr string
		if err := rows.Scan(&c.ID, &c.Name, &c.Owner, &createdStr); err != nil {
			return nil, err
		}
		c.Created, _ = time.Parse(time.RFC3339Nano, createdStr)
		chats = append(chats, c)
	}

	return chats, rows.Err()
}

// AddChatMember enrolls a user into a chat. Duplicate adds are no-ops.
func (db *DB) AddChatMember(chatID int64, user string) error {
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO chat_members (chat_id, user) VALUES (?, ?)", chatID, user,
	)
	return err
}

func (db *DB) IsChatMember(chatID int64, user string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM chat_members WHERE chat_id = ? AND user = ?", chatID, user,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) ChatMembers(chatID int64) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT user FROM chat_members WHERE chat_id = ? ORDER BY id ASC", chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		members = append(members, name)
	}

	return members, rows.Err()
}

func (db *DB) CreateChatMessage(chatID int64, by, data string, t time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO chat_messages (chat_id, sender, data, created_ts) VALUES (?, ?, ?, ?)",
		chatID, by, data, t.UTC().Format(timeFormat),
	)
	return err
}
