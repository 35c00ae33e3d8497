package internal

import (
	"context"
	"errors"
	"time"
)

// The realtime layer talks to the rest of the system through these narrow
// interfaces. internal/storage implements all of them over SQLite; the redis
// presence mirror wraps UserDirectory when configured. Failures from the
// directory and store are logged and never gate live delivery.

// UserDirectory persists presence, best effort.
type UserDirectory interface {
	SetOnline(ctx context.Context, userID int64, online bool) error
	TouchLastSeen(ctx context.Context, userID int64) error
}

// ChatMembership resolves who belongs to a chat. Authorization has already
// been enforced by the REST layer that created the membership.
type ChatMembership interface {
	ParticipantsOf(ctx context.Context, chatID int64) ([]int64, error)
}

// MessageStore holds messages that could not be delivered live so they can
// be flushed when the recipient reconnects.
type MessageStore interface {
	SavePending(ctx context.Context, msg ChatMessage) error
	PendingFor(ctx context.Context, userID int64) ([]ChatMessage, error)
	MarkDelivered(ctx context.Context, messageIDs []string) error
}

// Authenticator validates a credential at connection start. Connections that
// fail this step are refused before they ever reach the registry.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID int64, username string, err error)
}

// Sentinel errors shared with the storage implementations so HTTP handlers
// can map them to status codes without importing the storage package.
var (
	ErrUserExists = errors.New("user already exists")
	ErrNotFound   = errors.New("not found")
)

// User is an account row as the HTTP layer sees it.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	Online       bool
	LastSeen     time.Time
}

// Chat is a conversation container. Membership lives in AccountStore.
type Chat struct {
	ID        int64
	Name      string
	CreatedBy int64
	CreatedAt time.Time
}

// AccountStore backs the REST surface: accounts, sessions, chats.
type AccountStore interface {
	CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CreateSession(ctx context.Context, userID int64, token string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, token string) error
	CreateChat(ctx context.Context, name string, creatorID int64, memberIDs []int64) (int64, error)
	ChatsFor(ctx context.Context, userID int64) ([]Chat, error)
	MembersOf(ctx context.Context, chatID int64) ([]User, error)
	AddChatMember(ctx context.Context, chatID, userID int64) error
}

// ServerStore is everything the server needs from storage. internal/storage
// satisfies the whole set with one SQLite-backed type.
type ServerStore interface {
	AccountStore
	Authenticator
	ChatMembership
	MessageStore
	UserDirectory
}
