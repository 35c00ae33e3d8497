package internal

import (
	"log"
	"sync"
	"time"
)

// Call session states. A pair of directed sessions moves through
// calling/receiving → connecting → ongoing; terminal events delete the pair.
const (
	CallStateCalling    = "calling"
	CallStateReceiving  = "receiving"
	CallStateConnecting = "connecting"
	CallStateOngoing    = "ongoing"
)

// Human-facing reasons carried by call_error events.
const (
	reasonUserOffline     = "User is offline"
	reasonUserBusy        = "User is busy"
	reasonAlreadyInCall   = "You are already in a call"
	reasonUserWentOffline = "User went offline"
	reasonNoActiveCall    = "No active call"
)

// CallSession is one directed half of a call. Sessions always exist in
// mirrored pairs: the record keyed by A has partner B, and B's record has
// partner A, with matching state. Any transition that deletes one side
// deletes the other in the same locked step, so a half-session can never
// linger and block future calls with a false busy.
type CallSession struct {
	PartnerID int64
	Role      string // caller or callee
	State     string
	StartedAt time.Time
}

// CallCoordinator brokers the peer-to-peer call handshake between two user
// identities: busy/offline detection, offer/answer/ICE relay, teardown. One
// mutex owns the session table; every check-then-act sequence runs inside
// it so two tasks can never both observe "not busy" and proceed.
type CallCoordinator struct {
	registry *Registry
	metrics  *Metrics
	logger   *log.Logger

	mu       sync.Mutex
	sessions map[int64]*CallSession
}

func NewCallCoordinator(registry *Registry, metrics *Metrics, logger *log.Logger) *CallCoordinator {
	return &CallCoordinator{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		sessions: make(map[int64]*CallSession),
	}
}

// Initiate starts a call from the connection's user to sig.To. Busy and
// offline outcomes surface as call_error to the caller only.
func (cc *CallCoordinator) Initiate(conn *Conn, sig CallSignal) {
	from, to := conn.userID, sig.To

	cc.mu.Lock()
	switch {
	case to == 0 || to == from:
		cc.mu.Unlock()
		conn.sendEvent(EventCallError, CallError{Reason: reasonUserOffline})
		return
	case !cc.registry.IsOnline(to):
		cc.mu.Unlock()
		conn.sendEvent(EventCallError, CallError{Reason: reasonUserOffline})
		return
	}
	if existing, ok := cc.sessions[from]; ok && existing.PartnerID != to {
		cc.mu.Unlock()
		conn.sendEvent(EventCallError, CallError{Reason: reasonAlreadyInCall})
		return
	}
	if existing, ok := cc.sessions[to]; ok && existing.PartnerID != from {
		cc.mu.Unlock()
		conn.sendEvent(EventCallError, CallError{Reason: reasonUserBusy})
		return
	}
	now := time.Now()
	cc.sessions[from] = &CallSession{PartnerID: to, Role: "caller", State: CallStateCalling, StartedAt: now}
	cc.sessions[to] = &CallSession{PartnerID: from, Role: "callee", State: CallStateReceiving, StartedAt: now}
	cc.mu.Unlock()

	cc.metrics.IncCallStarted()
	cc.fanOut(to, EventIncomingCall, CallSignal{
		From:     from,
		FromName: conn.username,
		CallType: sig.CallType,
	})
}

// Offer relays an SDP offer to the partner. An unreachable partner tears
// the pair down and errors back to the sender.
func (cc *CallCoordinator) Offer(conn *Conn, sig CallSignal) {
	cc.relayToPartner(conn, sig, EventCallOffer, "")
}

// Answer relays an SDP answer and moves both sides to ongoing.
func (cc *CallCoordinator) Answer(conn *Conn, sig CallSignal) {
	cc.relayToPartner(conn, sig, EventCallAnswer, CallStateOngoing)
}

// Accepted relays acceptance to the caller and moves both sides to
// connecting.
func (cc *CallCoordinator) Accepted(conn *Conn, sig CallSignal) {
	cc.relayToPartner(conn, sig, EventCallAccepted, CallStateConnecting)
}

// Ice relays an ICE candidate best effort. No session or state requirement;
// an unreachable target is silently dropped because the ICE protocol is
// loss tolerant.
func (cc *CallCoordinator) Ice(conn *Conn, sig CallSignal) {
	cc.mu.Lock()
	target := sig.To
	if session, ok := cc.sessions[conn.userID]; ok {
		target = session.PartnerID
	}
	cc.mu.Unlock()
	if target == 0 {
		return
	}
	cc.fanOut(target, EventIceCandidate, CallSignal{
		From:     conn.userID,
		FromName: conn.username,
		Payload:  sig.Payload,
	})
}

// Rejected relays rejection to the caller and deletes both sessions.
func (cc *CallCoordinator) Rejected(conn *Conn, sig CallSignal) {
	cc.mu.Lock()
	session, ok := cc.sessions[conn.userID]
	if !ok {
		cc.mu.Unlock()
		return
	}
	partner := session.PartnerID
	cc.deletePairLocked(conn.userID)
	cc.mu.Unlock()

	cc.fanOut(partner, EventCallRejected, CallSignal{
		From:     conn.userID,
		FromName: conn.username,
		Payload:  sig.Payload,
	})
}

// Ended relays hang-up to the partner if reachable, deletes both sessions
// and logs the call duration.
func (cc *CallCoordinator) Ended(conn *Conn, sig CallSignal) {
	cc.mu.Lock()
	session, ok := cc.sessions[conn.userID]
	if !ok {
		cc.mu.Unlock()
		return
	}
	partner := session.PartnerID
	started := session.StartedAt
	cc.deletePairLocked(conn.userID)
	cc.mu.Unlock()

	cc.metrics.IncCallEnded()
	cc.logger.Printf("call ended users=%d,%d duration=%s", conn.userID, partner, time.Since(started).Round(time.Second))
	cc.fanOut(partner, EventCallEnded, CallSignal{
		From:     conn.userID,
		FromName: conn.username,
		Payload:  sig.Payload,
	})
}

// OnVanished handles connection loss of either party: the partner hears
// call_ended and the pair is deleted. Fired by the registry when a user's
// last connection drops.
func (cc *CallCoordinator) OnVanished(userID int64) {
	cc.mu.Lock()
	session, ok := cc.sessions[userID]
	if !ok {
		cc.mu.Unlock()
		return
	}
	partner := session.PartnerID
	started := session.StartedAt
	cc.deletePairLocked(userID)
	cc.mu.Unlock()

	cc.metrics.IncCallEnded()
	cc.logger.Printf("call dropped user=%d partner=%d duration=%s", userID, partner, time.Since(started).Round(time.Second))
	cc.fanOut(partner, EventCallEnded, CallSignal{From: userID})
}

// SessionFor returns a copy of the user's session, if any.
func (cc *CallCoordinator) SessionFor(userID int64) (CallSession, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	session, ok := cc.sessions[userID]
	if !ok {
		return CallSession{}, false
	}
	return *session, true
}

// relayToPartner forwards a signaling payload verbatim to the sender's
// partner, optionally advancing both sides to nextState. A partner with no
// live connection fails the call: error to the sender, pair deleted.
func (cc *CallCoordinator) relayToPartner(conn *Conn, sig CallSignal, eventType, nextState string) {
	cc.mu.Lock()
	session, ok := cc.sessions[conn.userID]
	if !ok {
		cc.mu.Unlock()
		conn.sendEvent(EventCallError, CallError{Reason: reasonNoActiveCall})
		return
	}
	partner := session.PartnerID
	if !cc.registry.IsOnline(partner) {
		cc.deletePairLocked(conn.userID)
		cc.mu.Unlock()
		cc.metrics.IncCallEnded()
		conn.sendEvent(EventCallError, CallError{Reason: reasonUserWentOffline})
		return
	}
	if nextState != "" {
		session.State = nextState
		if mirror, ok := cc.sessions[partner]; ok {
			mirror.State = nextState
		}
	}
	cc.mu.Unlock()

	cc.fanOut(partner, eventType, CallSignal{
		From:     conn.userID,
		FromName: conn.username,
		CallType: sig.CallType,
		Payload:  sig.Payload,
	})
}

// deletePairLocked removes both directed records of a pair. Callers hold
// the mutex.
func (cc *CallCoordinator) deletePairLocked(userID int64) {
	if session, ok := cc.sessions[userID]; ok {
		delete(cc.sessions, session.PartnerID)
	}
	delete(cc.sessions, userID)
}

// fanOut delivers a call event to every connection of a user.
func (cc *CallCoordinator) fanOut(userID int64, eventType string, sig CallSignal) {
	env, err := NewEnvelope(eventType, sig)
	if err != nil {
		return
	}
	for _, conn := range cc.registry.ConnectionsFor(userID) {
		conn.deliver(env)
	}
}
