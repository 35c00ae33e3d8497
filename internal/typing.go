package internal

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	defaultTypingTTL   = 30 * time.Second
	defaultTypingSweep = 60 * time.Second
)

type typingKey struct {
	chatID int64
	userID int64
}

type typingEntry struct {
	username  string
	expiresAt time.Time
}

// TypingTracker maintains per-chat sets of currently-typing users with a
// TTL. The background sweep catches clients that crashed or lost
// connectivity mid-typing and never sent an explicit stop.
type TypingTracker struct {
	registry   *Registry
	membership ChatMembership
	logger     *log.Logger
	ttl        time.Duration
	sweep      time.Duration

	mu      sync.Mutex
	entries map[typingKey]*typingEntry
}

func NewTypingTracker(registry *Registry, membership ChatMembership, logger *log.Logger) *TypingTracker {
	return &TypingTracker{
		registry:   registry,
		membership: membership,
		logger:     logger,
		ttl:        defaultTypingTTL,
		sweep:      defaultTypingSweep,
		entries:    make(map[typingKey]*typingEntry),
	}
}

// Start inserts or refreshes the typing entry and tells the chat's other
// participants. Re-issuing start only pushes the expiry forward.
func (t *TypingTracker) Start(chatID int64, conn *Conn) {
	key := typingKey{chatID: chatID, userID: conn.userID}
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok {
		entry = &typingEntry{username: conn.username}
		t.entries[key] = entry
	}
	entry.expiresAt = time.Now().Add(t.ttl)
	t.mu.Unlock()

	t.broadcast(chatID, conn.userID, conn.username, true)
}

// Stop removes the entry immediately. Broadcasts only when the entry still
// existed, so an explicit stop racing the sweep cannot double-announce.
func (t *TypingTracker) Stop(chatID int64, conn *Conn) {
	key := typingKey{chatID: chatID, userID: conn.userID}
	t.mu.Lock()
	_, existed := t.entries[key]
	delete(t.entries, key)
	t.mu.Unlock()

	if existed {
		t.broadcast(chatID, conn.userID, conn.username, false)
	}
}

// Run sweeps expired entries until ctx is cancelled.
func (t *TypingTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweepExpired(time.Now())
		}
	}
}

func (t *TypingTracker) sweepExpired(now time.Time) {
	type expired struct {
		key      typingKey
		username string
	}
	var stale []expired
	t.mu.Lock()
	for key, entry := range t.entries {
		if now.After(entry.expiresAt) {
			stale = append(stale, expired{key: key, username: entry.username})
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()

	for _, e := range stale {
		t.broadcast(e.key.chatID, e.key.userID, e.username, false)
	}
}

// broadcast fans a typing indicator out to the chat's participants,
// excluding the typing user entirely (their other devices included).
func (t *TypingTracker) broadcast(chatID, typerID int64, username string, isTyping bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	participants, err := t.membership.ParticipantsOf(ctx, chatID)
	if err != nil {
		t.logger.Printf("typing participants lookup failed chat=%d err=%v", chatID, err)
		return
	}
	indicator := TypingIndicator{ChatID: chatID, UserID: typerID, Username: username, IsTyping: isTyping}
	env, err := NewEnvelope(EventTypingIndicator, indicator)
	if err != nil {
		return
	}
	for _, participant := range participants {
		if participant == typerID {
			continue
		}
		for _, conn := range t.registry.ConnectionsFor(participant) {
			conn.deliver(env)
		}
	}
}
