package internal

import (
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCalls(t *testing.T) (*CallCoordinator, *Registry) {
	t.Helper()
	registry := NewRegistry()
	coordinator := NewCallCoordinator(registry, NewMetrics(), log.Default())
	return coordinator, registry
}

func TestCallInitiateOfflineCallee(t *testing.T) {
	coordinator, registry := newTestCalls(t)
	caller := newTestConn(1, "alice")
	require.NoError(t, registry.Register(caller))

	coordinator.Initiate(caller, CallSignal{To: 2})

	env := recvEvent(t, caller)
	require.Equal(t, EventCallError, env.Type)
	require.Equal(t, "User is offline", decodeAs[CallError](t, env).Reason)
	_, ok := coordinator.SessionFor(1)
	require.False(t, ok, "failed initiate leaves no session behind")
}

func TestCallInitiateBusyCallee(t *testing.T) {
	coordinator, registry := newTestCalls(t)
	alice := newTestConn(1, "alice")
	bob := newTestConn(2, "bob")
	carol := newTestConn(3, "carol")
	require.NoError(t, registry.Register(alice))
	require.NoError(t, registry.Register(bob))
	require.NoError(t, registry.Register(carol))

	coordinator.Initiate(alice, CallSignal{To: 2})
	recvEvent(t, bob) // incoming_call

	coordinator.Initiate(carol, CallSignal{To: 2})
	env := recvEvent(t, carol)
	require.Equal(t, EventCallError, env.Type)
	require.Equal(t, "User is busy", decodeAs[CallError](t, env).Reason)

	// the original pair is untouched
	session, ok := coordinator.SessionFor(1)
	require.True(t, ok)
	require.Equal(t, int64(2), session.PartnerID)
	_, ok = coordinator.SessionFor(3)
	require.False(t, ok)
}

func TestCallInitiateWhileAlreadyCalling(t *testing.T) {
	coordinator, registry := newTestCalls(t)
	alice := newTestConn(1, "alice")
	bob := newTestConn(2, "bob")
	carol := newTestConn(3, "carol")
	require.NoError(t, registry.Register(alice))
	require.NoError(t, registry.Register(bob))
	require.NoError(t, registry.Register(carol))

	coordinator.Initiate(alice, CallSignal{To: 2})
	recvEvent(t, bob)

	coordinator.Initiate(alice, CallSignal{To: 3})
	env := recvEvent(t, alice)
	require.Equal(t, EventCallError, env.Type)
	require.Equal(t, "You are already in a call", decodeAs[CallError](t, env).Reason)
	require.True(t, noEvent(carol))
}

func TestCallFullLifecycle(t *testing.T) {
	coordinator, registry := newTestCalls(t)
	alice := newTestConn(1, "alice")
	bob := newTestConn(2, "bob")
	require.NoError(t, registry.Register(alice))
	require.NoError(t, registry.Register(bob))

	coordinator.Initiate(alice, CallSignal{To: 2, CallType: "video"})
	env := recvEvent(t, bob)
	require.Equal(t, EventIncomingCall, env.Type)
	incoming := decodeAs[CallSignal](t, env)
	require.Equal(t, int64(1), incoming.From)
	require.Equal(t, "alice", incoming.FromName)
	require.Equal(t, "video", incoming.CallType)

	session, _ := coordinator.SessionFor(1)
	require.Equal(t, CallStateCalling, session.State)
	session, _ = coordinator.SessionFor(2)
	require.Equal(t, CallStateReceiving, session.State)

	coordinator.Accepted(bob, CallSignal{})
	env = recvEvent(t, alice)
	require.Equal(t, EventCallAccepted, env.Type)
	session, _ = coordinator.SessionFor(1)
	require.Equal(t, CallStateConnecting, session.State)

	coordinator.Offer(alice, CallSignal{Payload: []byte(`{"sdp":"offer"}`)})
	env = recvEvent(t, bob)
	require.Equal(t, EventCallOffer, env.Type)
	require.JSONEq(t, `{"sdp":"offer"}`, string(decodeAs[CallSignal](t, env).Payload))

	coordinator.Answer(bob, CallSignal{Payload: []byte(`{"sdp":"answer"}`)})
	env = recvEvent(t, alice)
	require.Equal(t, EventCallAnswer, env.Type)
	session, _ = coordinator.SessionFor(1)
	require.Equal(t, CallStateOngoing, session.State)
	session, _ = coordinator.SessionFor(2)
	require.Equal(t, CallStateOngoing, session.State)

	coordinator.Ice(alice, CallSignal{Payload: []byte(`{"candidate":"c1"}`)})
	env = recvEvent(t, bob)
	require.Equal(t, EventIceCandidate, env.Type)

	coordinator.Ended(alice, CallSignal{})
	env = recvEvent(t, bob)
	require.Equal(t, EventCallEnded, env.Type)
	_, ok := coordinator.SessionFor(1)
	require.False(t, ok)
	_, ok = coordinator.SessionFor(2)
	require.False(t, ok)
}

func TestCallRejectedTearsDownPair(t *testing.T) {
	coordinator, registry := newTestCalls(t)
	alice := newTestConn(1, "alice")
	bob := newTestConn(2, "bob")
	require.NoError(t, registry.Register(alice))
	require.NoError(t, registry.Register(bob))

	coordinator.Initiate(alice, CallSignal{To: 2})
	recvEvent(t, bob)

	coordinator.Rejected(bob, CallSignal{})
	env := recvEvent(t, alice)
	require.Equal(t, EventCallRejected, env.Type)
	_, ok := coordinator.SessionFor(1)
	require.False(t, ok)
	_, ok = coordinator.SessionFor(2)
	require.False(t, ok)
}

func TestCallRelayToWentOfflinePartner(t *testing.T) {
	coordinator, registry := newTestCalls(t)
	alice := newTestConn(1, "alice")
	bob := newTestConn(2, "bob")
	require.NoError(t, registry.Register(alice))
	require.NoError(t, registry.Register(bob))

	coordinator.Initiate(alice, CallSignal{To: 2})
	recvEvent(t, bob)

	registry.Unregister(bob)
	coordinator.Offer(alice, CallSignal{Payload: []byte(`{"sdp":"offer"}`)})

	env := recvEvent(t, alice)
	require.Equal(t, EventCallError, env.Type)
	require.Equal(t, "User went offline", decodeAs[CallError](t, env).Reason)
	_, ok := coordinator.SessionFor(1)
	require.False(t, ok)
}

func TestCallVanishedNotifiesPartner(t *testing.T) {
	coordinator, registry := newTestCalls(t)
	registry.onVanished = coordinator.OnVanished

	alice := newTestConn(1, "alice")
	bob := newTestConn(2, "bob")
	require.NoError(t, registry.Register(alice))
	require.NoError(t, registry.Register(bob))

	coordinator.Initiate(alice, CallSignal{To: 2})
	recvEvent(t, bob)

	registry.Unregister(bob)

	env := recvEvent(t, alice)
	require.Equal(t, EventCallEnded, env.Type)
	_, ok := coordinator.SessionFor(1)
	require.False(t, ok)
	_, ok = coordinator.SessionFor(2)
	require.False(t, ok)
}

func TestCallIceWithoutSessionIsSilent(t *testing.T) {
	coordinator, registry := newTestCalls(t)
	alice := newTestConn(1, "alice")
	require.NoError(t, registry.Register(alice))

	coordinator.Ice(alice, CallSignal{Payload: []byte(`{"candidate":"late"}`)})
	require.True(t, noEvent(alice), "stray ice candidates are dropped without error")
}
