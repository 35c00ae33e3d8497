package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
	sqlite "modernc.org/sqlite"

	"pulsechat/internal"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle and implements every persistence interface
// the realtime server consumes.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database at the provided path. Call Close
// when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "pulsechat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash BLOB NOT NULL,
			online INTEGER NOT NULL DEFAULT 0,
			last_seen DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			created_by INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(created_by) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS chat_members (
			chat_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (chat_id, user_id),
			FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			temp_id TEXT,
			chat_id INTEGER NOT NULL DEFAULT 0,
			sender_id INTEGER NOT NULL,
			sender TEXT NOT NULL DEFAULT '',
			recipient_id INTEGER NOT NULL,
			body TEXT NOT NULL,
			ts INTEGER NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pending
			ON messages(recipient_id, delivered);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateUser inserts a new user. internal.ErrUserExists is returned on
// conflicts.
func (s *Store) CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO users(username, password_hash) VALUES(?, ?)`, username, passwordHash)
	if err != nil {
		if isConstraintError(err) {
			return 0, internal.ErrUserExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetUserByUsername fetches a user by username. A missing user is (nil, nil).
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*internal.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, online, last_seen FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*internal.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, online, last_seen FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*internal.User, error) {
	var user internal.User
	var online int64
	var lastSeen sql.NullTime
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &online, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Online = online != 0
	if lastSeen.Valid {
		user.LastSeen = lastSeen.Time
	}
	return &user, nil
}

// ListUsers returns every account ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]internal.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, online, last_seen FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []internal.User
	for rows.Next() {
		var user internal.User
		var online int64
		var lastSeen sql.NullTime
		if err := rows.Scan(&user.ID, &user.Username, &online, &lastSeen); err != nil {
			return nil, err
		}
		user.Online = online != 0
		if lastSeen.Valid {
			user.LastSeen = lastSeen.Time
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateSession stores a new session token for a user.
func (s *Store) CreateSession(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions(token, user_id, expires_at) VALUES(?, ?, ?)`, token, userID, expiresAt.UTC())
	return err
}

// DeleteSession removes a session token (used for logout).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// Authenticate resolves a live session token to its user. Missing and
// expired tokens both come back as internal.ErrNotFound.
func (s *Store) Authenticate(ctx context.Context, token string) (int64, string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, s.expires_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token = ?`, token)
	var userID int64
	var username string
	var expiresAt time.Time
	if err := row.Scan(&userID, &username, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", fmt.Errorf("session: %w", internal.ErrNotFound)
		}
		return 0, "", err
	}
	if time.Now().After(expiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
		return 0, "", fmt.Errorf("session expired: %w", internal.ErrNotFound)
	}
	return userID, username, nil
}

// CreateChat inserts the chat and its membership rows in one transaction.
// The creator becomes a member regardless of the members argument.
func (s *Store) CreateChat(ctx context.Context, name string, creatorID int64, memberIDs []int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	result, err := tx.ExecContext(ctx, `INSERT INTO chats(name, created_by) VALUES(?, ?)`, name, creatorID)
	if err != nil {
		return 0, err
	}
	chatID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	members := append([]int64{creatorID}, memberIDs...)
	for _, memberID := range members {
		if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO chat_members(chat_id, user_id) VALUES(?, ?)`, chatID, memberID); err != nil {
			return 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return chatID, nil
}

// ChatsFor lists the chats the user belongs to, newest first.
func (s *Store) ChatsFor(ctx context.Context, userID int64) ([]internal.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.created_by, c.created_at
		FROM chats c JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = ?
		ORDER BY c.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chats []internal.Chat
	for rows.Next() {
		var chat internal.Chat
		if err := rows.Scan(&chat.ID, &chat.Name, &chat.CreatedBy, &chat.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// MembersOf lists the members of a chat. An unknown chat is
// internal.ErrNotFound.
func (s *Store) MembersOf(ctx context.Context, chatID int64) ([]internal.User, error) {
	var exists int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chats WHERE id = ?`, chatID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("chat %d: %w", chatID, internal.ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.online, u.last_seen
		FROM users u JOIN chat_members m ON m.user_id = u.id
		WHERE m.chat_id = ?
		ORDER BY u.username`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []internal.User
	for rows.Next() {
		var user internal.User
		var online int64
		var lastSeen sql.NullTime
		if err := rows.Scan(&user.ID, &user.Username, &online, &lastSeen); err != nil {
			return nil, err
		}
		user.Online = online != 0
		if lastSeen.Valid {
			user.LastSeen = lastSeen.Time
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// AddChatMember adds a user to an existing chat. Adding an existing member
// is a no-op.
func (s *Store) AddChatMember(ctx context.Context, chatID, userID int64) error {
	var exists int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chats WHERE id = ?`, chatID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("chat %d: %w", chatID, internal.ErrNotFound)
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO chat_members(chat_id, user_id) VALUES(?, ?)`, chatID, userID)
	return err
}

// ParticipantsOf returns member ids only, for typing fan-out.
func (s *Store) ParticipantsOf(ctx context.Context, chatID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM chat_members WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SavePending stores a message awaiting delivery. Re-saving the same id is
// a no-op, matching the relay's idempotency contract.
func (s *Store) SavePending(ctx context.Context, msg internal.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages(id, temp_id, chat_id, sender_id, sender, recipient_id, body, ts, delivered)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		msg.ID, msg.TempID, msg.ChatID, msg.SenderID, msg.Sender, msg.RecipientID, msg.Body, msg.Ts)
	return err
}

// PendingFor returns undelivered messages for a user in send order.
func (s *Store) PendingFor(ctx context.Context, userID int64) ([]internal.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, temp_id, chat_id, sender_id, sender, recipient_id, body, ts
		FROM messages
		WHERE recipient_id = ? AND delivered = 0
		ORDER BY ts, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []internal.ChatMessage
	for rows.Next() {
		var msg internal.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.TempID, &msg.ChatID, &msg.SenderID, &msg.Sender, &msg.RecipientID, &msg.Body, &msg.Ts); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// MarkDelivered flags flushed messages so they are never replayed.
func (s *Store) MarkDelivered(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(messageIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET delivered = 1 WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// SetOnline persists the presence flag.
func (s *Store) SetOnline(ctx context.Context, userID int64, online bool) error {
	flag := 0
	if online {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET online = ? WHERE id = ?`, flag, userID)
	return err
}

// TouchLastSeen stamps activity time.
func (s *Store) TouchLastSeen(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen = CURRENT_TIMESTAMP WHERE id = ?`, userID)
	return err
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintCode
	}
	return false
}
