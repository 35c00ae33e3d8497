package internal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// test connections never start pumps, so events queue in the send buffer
// where assertions can read them back.
func newTestConn(userID int64, username string) *Conn {
	return newConn(nil, userID, username)
}

func recvEvent(t *testing.T, c *Conn) Envelope {
	t.Helper()
	select {
	case raw := <-c.send:
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("no event queued for user %d", c.userID)
		return Envelope{}
	}
}

func decodeAs[T any](t *testing.T, env Envelope) T {
	t.Helper()
	out, err := decodePayload[T](env.Data)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return out
}

func noEvent(c *Conn) bool {
	select {
	case <-c.send:
		return false
	default:
		return true
	}
}

type fakeMembership struct {
	participants map[int64][]int64
}

func (f *fakeMembership) ParticipantsOf(_ context.Context, chatID int64) ([]int64, error) {
	return f.participants[chatID], nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	online  map[int64]bool
	touched map[int64]int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{online: make(map[int64]bool), touched: make(map[int64]int)}
}

func (f *fakeDirectory) SetOnline(_ context.Context, userID int64, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = online
	return nil
}

func (f *fakeDirectory) TouchLastSeen(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[userID]++
	return nil
}

func (f *fakeDirectory) isOnline(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

type fakeMessageStore struct {
	mu        sync.Mutex
	pending   map[int64][]ChatMessage
	delivered []string
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{pending: make(map[int64][]ChatMessage)}
}

func (f *fakeMessageStore) SavePending(_ context.Context, msg ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[msg.RecipientID] = append(f.pending[msg.RecipientID], msg)
	return nil
}

func (f *fakeMessageStore) PendingFor(_ context.Context, userID int64) ([]ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatMessage(nil), f.pending[userID]...), nil
}

func (f *fakeMessageStore) MarkDelivered(_ context.Context, messageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, messageIDs...)
	return nil
}

func (f *fakeMessageStore) savedFor(userID int64) []ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatMessage(nil), f.pending[userID]...)
}
