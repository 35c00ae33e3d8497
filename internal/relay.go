package internal

import (
	"context"
	"log"
	"time"
)

// MessageRelay delivers chat messages to every live connection that should
// see them: the recipient's devices directly, plus everyone subscribed to
// the owning chat room. Both paths are attempted for every message — a user
// can be reachable via the direct mapping but not yet rejoined to the room
// after a reconnect, or vice versa, and relying on a single path opens a
// window where a message is silently lost.
type MessageRelay struct {
	registry *Registry
	rooms    *RoomTable
	dedup    *DedupCache
	store    MessageStore
	metrics  *Metrics
	logger   *log.Logger
}

func NewMessageRelay(registry *Registry, rooms *RoomTable, dedup *DedupCache, store MessageStore, metrics *Metrics, logger *log.Logger) *MessageRelay {
	return &MessageRelay{
		registry: registry,
		rooms:    rooms,
		dedup:    dedup,
		store:    store,
		metrics:  metrics,
		logger:   logger,
	}
}

// Send runs the full delivery pipeline for one inbound message. It never
// returns an error to the caller's socket loop; failures surface to the
// sender as a message_error event instead.
func (m *MessageRelay) Send(sender *Conn, msg ChatMessage) {
	if msg.ID != "" && m.dedup.SeenOrRecord(msg.ID) {
		// replayed idempotency key: discard silently, no ack, no error
		m.metrics.IncDuplicate()
		return
	}

	msg.SenderID = sender.userID
	msg.Sender = sender.username
	if msg.Ts == 0 {
		msg.Ts = time.Now().Unix()
	}

	env, err := NewEnvelope(EventReceiveMessage, msg)
	if err != nil {
		sender.sendEvent(EventMessageError, MessageError{TempID: msg.TempID, Reason: "message could not be encoded"})
		return
	}

	recipients := m.registry.ConnectionsFor(msg.RecipientID)
	for _, conn := range recipients {
		conn.deliver(env)
	}

	if msg.ChatID != 0 {
		for _, conn := range m.rooms.Subscribers(msg.ChatID, sender.id) {
			conn.deliver(env)
		}
	}

	if len(recipients) == 0 && msg.RecipientID != 0 {
		m.queuePending(msg)
	}

	m.metrics.IncRelayed()
	sender.sendEvent(EventMessageDelivered, DeliveredAck{
		TempID:    msg.TempID,
		MessageID: msg.ID,
		Ts:        msg.Ts,
	})
}

// FlushPending replays stored messages to a freshly registered connection.
// Called once per connection, right after registration.
func (m *MessageRelay) FlushPending(conn *Conn) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pending, err := m.store.PendingFor(ctx, conn.userID)
	if err != nil {
		m.logger.Printf("pending lookup failed user=%d err=%v", conn.userID, err)
		return
	}
	if len(pending) == 0 {
		return
	}
	delivered := make([]string, 0, len(pending))
	for _, msg := range pending {
		conn.sendEvent(EventReceiveMessage, msg)
		if msg.ID != "" {
			delivered = append(delivered, msg.ID)
		}
	}
	if err := m.store.MarkDelivered(ctx, delivered); err != nil {
		m.logger.Printf("pending mark failed user=%d err=%v", conn.userID, err)
	}
}

// queuePending stores a message for an unreachable recipient, best effort.
func (m *MessageRelay) queuePending(msg ChatMessage) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.store.SavePending(ctx, msg); err != nil {
		m.logger.Printf("store-and-forward failed recipient=%d err=%v", msg.RecipientID, err)
	}
}
