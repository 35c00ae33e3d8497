package internal

import "sync"

// RoomTable tracks which connections subscribed to which chat-room broadcast
// group. It is purely a fan-out addressing mechanism: membership authority
// lives in the chat store, and the REST layer enforced authorization before
// the client ever issued a join.
type RoomTable struct {
	mu     sync.RWMutex
	byChat map[int64]map[string]*Conn
	byConn map[string]map[int64]struct{} // reverse index for disconnect cleanup
}

func NewRoomTable() *RoomTable {
	return &RoomTable{
		byChat: make(map[int64]map[string]*Conn),
		byConn: make(map[string]map[int64]struct{}),
	}
}

// Join subscribes conn to the chat's broadcast group. Idempotent.
func (t *RoomTable) Join(chatID int64, conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	group := t.byChat[chatID]
	if group == nil {
		group = make(map[string]*Conn)
		t.byChat[chatID] = group
	}
	group[conn.id] = conn

	chats := t.byConn[conn.id]
	if chats == nil {
		chats = make(map[int64]struct{})
		t.byConn[conn.id] = chats
	}
	chats[chatID] = struct{}{}
}

// Leave removes conn from one chat's broadcast group.
func (t *RoomTable) Leave(chatID int64, conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(chatID, conn.id)
	if chats := t.byConn[conn.id]; chats != nil {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(t.byConn, conn.id)
		}
	}
}

// DropConn removes every subscription held by a closing connection.
func (t *RoomTable) DropConn(conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for chatID := range t.byConn[conn.id] {
		t.removeLocked(chatID, conn.id)
	}
	delete(t.byConn, conn.id)
}

// Subscribers snapshots the chat's subscribed connections, excluding the
// given connection id (pass "" to exclude nothing).
func (t *RoomTable) Subscribers(chatID int64, exceptConnID string) []*Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	group := t.byChat[chatID]
	if len(group) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(group))
	for id, c := range group {
		if id == exceptConnID {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (t *RoomTable) removeLocked(chatID int64, connID string) {
	group := t.byChat[chatID]
	if group == nil {
		return
	}
	delete(group, connID)
	if len(group) == 0 {
		delete(t.byChat, chatID)
	}
}
