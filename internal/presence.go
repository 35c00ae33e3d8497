package internal

import (
	"context"
	"log"
	"sync"
	"time"
)

// PresenceRecord is the tracked status for one user identity. LastSeen is
// stamped when the user drops fully offline.
type PresenceRecord struct {
	UserID   int64
	Username string
	Online   bool
	LastSeen time.Time
}

// PresenceTracker derives online/offline transitions from registry occupancy
// changes and broadcasts them to every connected party. Presence is not
// confidential here, so the broadcast is global rather than targeted.
type PresenceTracker struct {
	registry  *Registry
	directory UserDirectory
	logger    *log.Logger

	mu      sync.Mutex
	records map[int64]*PresenceRecord
}

func NewPresenceTracker(registry *Registry, directory UserDirectory, logger *log.Logger) *PresenceTracker {
	return &PresenceTracker{
		registry:  registry,
		directory: directory,
		logger:    logger,
		records:   make(map[int64]*PresenceRecord),
	}
}

// OnOnline is fired by the registry when a user's first connection lands.
// A second device joining an already-online user never reaches here.
func (p *PresenceTracker) OnOnline(userID int64, username string) {
	p.mu.Lock()
	rec, ok := p.records[userID]
	if !ok {
		rec = &PresenceRecord{UserID: userID}
		p.records[userID] = rec
	}
	rec.Online = true
	rec.Username = username
	status := UserStatus{UserID: userID, Username: username, Online: true}
	p.mu.Unlock()

	p.broadcast(status)
	p.persist(userID, true)
}

// OnOffline is fired when a user's last connection drops. Stamps LastSeen.
func (p *PresenceTracker) OnOffline(userID int64, username string) {
	now := time.Now()
	p.mu.Lock()
	rec, ok := p.records[userID]
	if !ok {
		rec = &PresenceRecord{UserID: userID, Username: username}
		p.records[userID] = rec
	}
	rec.Online = false
	rec.LastSeen = now
	status := UserStatus{UserID: userID, Username: username, Online: false, LastSeen: now.Unix()}
	p.mu.Unlock()

	p.broadcast(status)
	p.persist(userID, false)
}

// Heartbeat refreshes last-seen persistence for an authenticated connection.
func (p *PresenceTracker) Heartbeat(userID int64) {
	if p.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.directory.TouchLastSeen(ctx, userID); err != nil {
		p.logger.Printf("presence touch failed user=%d err=%v", userID, err)
	}
}

// Record returns a copy of the tracked record, if any.
func (p *PresenceTracker) Record(userID int64) (PresenceRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[userID]
	if !ok {
		return PresenceRecord{}, false
	}
	return *rec, true
}

// Online reports tracked status; it mirrors registry occupancy.
func (p *PresenceTracker) Online(userID int64) bool {
	return p.registry.IsOnline(userID)
}

func (p *PresenceTracker) broadcast(status UserStatus) {
	env, err := NewEnvelope(EventUserStatus, status)
	if err != nil {
		p.logger.Printf("presence broadcast encode failed user=%d err=%v", status.UserID, err)
		return
	}
	for _, conn := range p.registry.AllConnections() {
		conn.deliver(env)
	}
}

// persist writes the transition through the directory, best effort. Realtime
// flow never blocks on storage durability.
func (p *PresenceTracker) persist(userID int64, online bool) {
	if p.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.directory.SetOnline(ctx, userID, online); err != nil {
		p.logger.Printf("presence persist failed user=%d online=%v err=%v", userID, online, err)
	}
	if !online {
		if err := p.directory.TouchLastSeen(ctx, userID); err != nil {
			p.logger.Printf("presence touch failed user=%d err=%v", userID, err)
		}
	}
}
