package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulsechat/internal"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "alice", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected id > 0")
	}
	if _, err := store.CreateUser(ctx, "alice", []byte("hash2")); !errors.Is(err, internal.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.Online {
		t.Fatalf("new user should start offline")
	}

	missing, err := store.GetUserByUsername(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetUserByUsername missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing user")
	}
}

func TestAuthenticate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, err := store.CreateUser(ctx, "bob", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateSession(ctx, userID, "token123", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	gotID, gotName, err := store.Authenticate(ctx, "token123")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if gotID != userID || gotName != "bob" {
		t.Fatalf("unexpected identity %d/%s", gotID, gotName)
	}

	if _, _, err := store.Authenticate(ctx, "bogus"); !errors.Is(err, internal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown token, got %v", err)
	}

	if err := store.CreateSession(ctx, userID, "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateSession stale: %v", err)
	}
	if _, _, err := store.Authenticate(ctx, "stale"); !errors.Is(err, internal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired token, got %v", err)
	}

	if err := store.DeleteSession(ctx, "token123"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, _, err := store.Authenticate(ctx, "token123"); !errors.Is(err, internal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after logout, got %v", err)
	}
}

func TestChatsAndMembership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, err := store.CreateUser(ctx, "alice", []byte("h1"))
	if err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	bobID, err := store.CreateUser(ctx, "bob", []byte("h2"))
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}

	chatID, err := store.CreateChat(ctx, "general", aliceID, []int64{bobID})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	chats, err := store.ChatsFor(ctx, bobID)
	if err != nil {
		t.Fatalf("ChatsFor: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != chatID || chats[0].Name != "general" {
		t.Fatalf("unexpected chats: %+v", chats)
	}

	members, err := store.MembersOf(ctx, chatID)
	if err != nil {
		t.Fatalf("MembersOf: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	participants, err := store.ParticipantsOf(ctx, chatID)
	if err != nil {
		t.Fatalf("ParticipantsOf: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(participants))
	}

	carolID, err := store.CreateUser(ctx, "carol", []byte("h3"))
	if err != nil {
		t.Fatalf("CreateUser carol: %v", err)
	}
	if err := store.AddChatMember(ctx, chatID, carolID); err != nil {
		t.Fatalf("AddChatMember: %v", err)
	}
	if err := store.AddChatMember(ctx, chatID, carolID); err != nil {
		t.Fatalf("AddChatMember repeat: %v", err)
	}
	members, err = store.MembersOf(ctx, chatID)
	if err != nil {
		t.Fatalf("MembersOf after add: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("expected 3 members after add, got %d", len(members))
	}

	if _, err := store.MembersOf(ctx, chatID+99); !errors.Is(err, internal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown chat, got %v", err)
	}
	if err := store.AddChatMember(ctx, chatID+99, carolID); !errors.Is(err, internal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound adding to unknown chat, got %v", err)
	}
}

func TestPendingMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := internal.ChatMessage{
		ID:          "m1",
		SenderID:    1,
		Sender:      "alice",
		RecipientID: 2,
		Body:        "hello while you were away",
		Ts:          time.Now().Unix(),
	}
	if err := store.SavePending(ctx, msg); err != nil {
		t.Fatalf("SavePending: %v", err)
	}
	// same idempotency key again is a no-op
	if err := store.SavePending(ctx, msg); err != nil {
		t.Fatalf("SavePending duplicate: %v", err)
	}

	pending, err := store.PendingFor(ctx, 2)
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if len(pending) != 1 || pending[0].Body != msg.Body {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	if err := store.MarkDelivered(ctx, []string{"m1"}); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	pending, err = store.PendingFor(ctx, 2)
	if err != nil {
		t.Fatalf("PendingFor after mark: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending after delivery, got %d", len(pending))
	}
}

func TestPresencePersistence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, err := store.CreateUser(ctx, "carol", []byte("h"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if err := store.SetOnline(ctx, userID, true); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	user, err := store.GetUserByID(ctx, userID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user == nil || !user.Online {
		t.Fatalf("expected online user, got %+v", user)
	}

	if err := store.SetOnline(ctx, userID, false); err != nil {
		t.Fatalf("SetOnline false: %v", err)
	}
	if err := store.TouchLastSeen(ctx, userID); err != nil {
		t.Fatalf("TouchLastSeen: %v", err)
	}
	user, err = store.GetUserByID(ctx, userID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.Online {
		t.Fatalf("expected offline user")
	}
	if user.LastSeen.IsZero() {
		t.Fatalf("expected last_seen to be stamped")
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
